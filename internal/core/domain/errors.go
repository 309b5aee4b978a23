package domain

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTemporary       = errors.New("temporary failure")
	ErrUnsupportedType = errors.New("unsupported file type")

	// Stage-fatal kinds.
	ErrEmptySource = errors.New("source directory is empty")
	ErrNoText      = errors.New("no text extracted")
	ErrTemplate    = errors.New("tabular template unusable")

	ErrMissingFeature = errors.New("missing feature")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

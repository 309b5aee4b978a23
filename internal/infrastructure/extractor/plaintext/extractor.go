package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// Extractor returns text files as-is after validating their encoding.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ExtractText(_ context.Context, file domain.SourceFile) (string, error) {
	raw := file.Data
	raw = trimBOM(raw)
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrUnsupportedType, "plaintext extract", fmt.Errorf("%s is not valid UTF-8", file.Name))
	}
	return strings.TrimSpace(string(raw)), nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xef && b[1] == 0xbb && b[2] == 0xbf {
		return b[3:]
	}
	return b
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

const statusBodyLimit = 2048

// StatusError is a non-2xx answer from an HTTP dependency.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d %s", e.Service, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s status %d: %s", e.Service, e.StatusCode, e.Body)
}

// ReadStatusError keeps the first part of the response body for the error message.
func ReadStatusError(service string, resp *http.Response) *StatusError {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
	return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClassifyHTTP is the classifier for JSON/HTTP dependencies. Caller
// cancellation is neither retried nor counted against the breaker; 4xx
// answers are the request's fault and do not trip it either.
func ClassifyHTTP(err error) ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		retry := RetryableStatus(statusErr.StatusCode)
		return ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{RecordFailure: true}
}

// MarkTemporary wraps err as domain.ErrTemporary when classifier would have
// retried it, so callers can tell outages from bad input.
func MarkTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = ClassifyHTTP
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

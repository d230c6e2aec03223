package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailKind is the closed set of failure classifications produced at the
// collaborator boundaries. The pipeline's retry decisions switch on the kind,
// never on error message text.
type FailKind string

const (
	FailTimeout            FailKind = "timeout"
	FailServiceUnavailable FailKind = "service_unavailable"
	FailRateLimited        FailKind = "rate_limited"
	FailAuth               FailKind = "authentication"
	FailNotFound           FailKind = "not_found"
	FailUnknown            FailKind = "unknown"
)

// Retryable reports whether a failure of this kind warrants a bounded retry.
// Authentication is fatal (pipeline-wide pause), not-found and unknown evict
// immediately.
func (k FailKind) Retryable() bool {
	switch k {
	case FailTimeout, FailServiceUnavailable, FailRateLimited:
		return true
	default:
		return false
	}
}

// Fatal reports whether a failure of this kind must pause the whole pipeline.
func (k FailKind) Fatal() bool { return k == FailAuth }

// Failure tags an underlying error with its classification.
type Failure struct {
	Kind FailKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err with the given kind.
func Fail(kind FailKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}

// Failf wraps a formatted error with the given kind.
func Failf(kind FailKind, format string, args ...any) error {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify extracts the failure kind from err. Errors that were never tagged
// at a collaborator boundary classify as unknown, which the pipeline treats
// as an immediate eviction.
func Classify(err error) FailKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailUnknown
}

// ClassifyTransport maps common transport-level errors to a kind, for use by
// the HTTP collaborators before any status code is available.
func ClassifyTransport(err error) FailKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailTimeout
	}
	return FailServiceUnavailable
}

// FromHTTPStatus maps a non-2xx response status to a failure kind.
func FromHTTPStatus(status int) FailKind {
	switch {
	case status == 401 || status == 403:
		return FailAuth
	case status == 404 || status == 410:
		return FailNotFound
	case status == 429:
		return FailRateLimited
	case status >= 500:
		return FailServiceUnavailable
	default:
		return FailUnknown
	}
}

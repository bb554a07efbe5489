// Package resilience provides retry and error-classification helpers for
// calls to the generation provider and other external services.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). The per-call retry helper replays these up to the attempt cap.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// FatalError wraps a provider error that must not be retried: quota
// exhausted, payment required, revoked credentials. It is surfaced as a
// distinct class so the orchestrator can stop scheduling further items
// instead of burning through the rest of the batch against a dead provider.
type FatalError struct {
	Err    error
	Reason string
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal with a short machine-readable reason.
func NewFatalError(err error, reason string) *FatalError {
	return &FatalError{Err: err, Reason: reason}
}

// IsFatal returns true if the error chain contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
// Fatal errors are never transient, regardless of what they wrap.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsFatalHTTPStatus returns true for status codes that indicate the
// provider will keep rejecting calls until a human intervenes.
func IsFatalHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 401, // bad or revoked credentials
		402, // payment required / quota exhausted
		403:
		return true
	default:
		return false
	}
}

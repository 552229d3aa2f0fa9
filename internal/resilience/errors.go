// Package resilience provides the provider error taxonomy, retry backoff,
// and circuit breaker used around external enrichment calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies a provider failure. Transient kinds are retried by
// the job queue's backoff policy; permanent kinds fail the job immediately.
type ErrorKind string

const (
	// Transient kinds.
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindServerError ErrorKind = "server_error"

	// Permanent kinds.
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindNotFound           ErrorKind = "not_found"
	KindQuotaExhausted     ErrorKind = "quota_exhausted"
)

// Transient reports whether the kind is safe to retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from an enrichment provider.
type ProviderError struct {
	Kind       ErrorKind
	Service    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a classified provider error.
func NewProviderError(kind ErrorKind, service string, statusCode int, err error) *ProviderError {
	return &ProviderError{Kind: kind, Service: service, StatusCode: statusCode, Err: err}
}

// KindFromHTTPStatus maps an HTTP response status to an error kind.
// Unmapped statuses default to server_error so unknown failures stay
// retriable.
func KindFromHTTPStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindInvalidCredentials
	case status == 402:
		return KindQuotaExhausted
	case status == 404 || status == 422:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	default:
		return KindServerError
	}
}

// IsTransient reports whether an error is safe to retry: an explicit
// transient ProviderError, a network timeout, a connection-level failure,
// or a context deadline (a stalled provider call, classified transient per
// the timeout policy).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
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

	// Heuristics for errors wrapped by HTTP clients without classification.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsPermanent reports whether an error carries a permanent provider kind.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && !pe.Kind.Transient()
}

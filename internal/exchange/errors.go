// Package exchange implements a client for the Independent Reserve
// crypto exchange API.
//
// The package exposes the public (unauthenticated) market-data methods,
// the private (HMAC-signed) account methods, and a WebSocket ticker
// stream. The client performs no retries itself; every failure is
// classified into a FetchError so the caller owns the retry policy.
package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed exchange call for retry-policy purposes.
type ErrorKind int

const (
	// KindTransport covers connection failures and timeouts. Retryable.
	KindTransport ErrorKind = iota

	// KindRateLimited means the exchange asked us to back off. Retryable
	// with increased delay.
	KindRateLimited

	// KindProtocol covers malformed or unexpected responses. Retryable a
	// bounded number of times, then fatal.
	KindProtocol

	// KindAuth means the credentials were rejected. Never retryable: the
	// same bad credential fails every subsequent call.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate-limited"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// FetchError wraps a failed exchange call with its classification.
type FetchError struct {
	Kind ErrorKind
	Op   string // API method that failed, e.g. "GetMarketSummary"
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("exchange %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a plain retry.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

func newFetchError(kind ErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err, defaulting to
// KindTransport for unclassified errors so that unknown failures are
// retried rather than killing the process.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// classifyHTTP maps a transport error or non-200 response to an error kind.
func classifyHTTP(op string, statusCode int, err error) *FetchError {
	if err != nil {
		// Dial failures, timeouts and cancelled contexts all land here.
		return newFetchError(KindTransport, op, err)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return newFetchError(KindAuth, op, fmt.Errorf("status %d", statusCode))
	case statusCode == http.StatusTooManyRequests:
		return newFetchError(KindRateLimited, op, fmt.Errorf("status %d", statusCode))
	case statusCode >= 500:
		return newFetchError(KindTransport, op, fmt.Errorf("status %d", statusCode))
	default:
		return newFetchError(KindProtocol, op, fmt.Errorf("unexpected status %d", statusCode))
	}
}

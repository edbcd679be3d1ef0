package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// StatusError records a non-2xx response from an upstream.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps err with the response status code.
func NewStatusError(err error, statusCode int) *StatusError {
	return &StatusError{StatusCode: statusCode, Err: err}
}

// IsUnavailable reports whether err means the upstream could not be reached
// or is overloaded: timeouts, refused or reset connections, DNS failures and
// 408/429/5xx responses. 4xx responses other than 408 and 429 mean the
// upstream is up and rejected the request.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return UnavailableStatus(se.StatusCode)
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

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// UnavailableStatus reports whether an HTTP status means the upstream is
// down or shedding load.
func UnavailableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

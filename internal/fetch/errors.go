package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// FetchError reports a download that failed after all attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError reports downloaded bytes whose digest differs from the
// declared checksum. The bytes are discarded.
type IntegrityError struct {
	URL  string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.URL, e.Want, e.Got)
}

type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return "unexpected HTTP status " + e.Status
}

// curlError is a failed curl transfer, identified by curl's exit code.
type curlError struct {
	Code int
	Err  error
}

func (e *curlError) Error() string {
	return fmt.Sprintf("curl: exit status %d", e.Code)
}

func (e *curlError) Unwrap() error { return e.Err }

// transient reports curl exit codes of network failures: resolve, connect,
// timeout, TLS handshake, empty reply, send and receive errors.
func (e *curlError) transient() bool {
	switch e.Code {
	case 6, 7, 28, 35, 52, 55, 56:
		return true
	}
	return false
}

// retryable reports whether another attempt may succeed: network errors,
// truncated bodies, 5xx and 429 responses.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ce *curlError
	if errors.As(err, &ce) {
		return ce.transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

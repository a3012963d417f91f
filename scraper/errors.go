package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ExtractionError reports a stage that could not read its page: the
// session failed to open, navigation failed or timed out, or the server
// answered with an HTTP error.
type ExtractionError struct {
	Stage models.Stage
	URL   string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s from %s: %v", e.Stage, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Kind labels the cause: timeout, connection, forbidden, not_found,
// rate_limited or other.
func (e *ExtractionError) Kind() string {
	return errorTypeLabel(classifyError(e.Err))
}

// ErrTimeout indicates a page load that exceeded its deadline.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing page (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	return "other"
}

// classifyError wraps err in the typed error matching its cause. Errors
// that fit no category are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	// Chrome reports network failures as net::ERR_* strings.
	if strings.Contains(err.Error(), "net::ERR_") {
		if strings.Contains(err.Error(), "TIMED_OUT") {
			return ErrTimeout{Err: err}
		}
		return ErrConnection{Err: err}
	}

	var statusErr *browser.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusForbidden:
			return ErrForbidden{Err: err}
		case http.StatusNotFound:
			return ErrNotFound{Err: err}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: err}
		}
	}
	return err
}

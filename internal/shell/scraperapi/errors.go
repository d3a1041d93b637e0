package scraperapi

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrMissingAPIKey is returned when the client is built without a key.
	ErrMissingAPIKey = errors.New("scraper api key is required")

	// ErrUpstreamStatus is returned when the proxy answers with a 4xx or 5xx
	// status after all retries.
	ErrUpstreamStatus = errors.New("upstream returned an error status")

	// ErrRequestFailed is returned when no response could be obtained.
	ErrRequestFailed = errors.New("request failed")
)

// FetchError wraps errors with additional context.
type FetchError struct {
	Op      string // Operation that failed
	URL     string // Target page
	Status  int    // HTTP status, zero when no response arrived
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Op, e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(op, url string, status int, message string, err error) *FetchError {
	return &FetchError{
		Op:      op,
		URL:     url,
		Status:  status,
		Message: message,
		Err:     err,
	}
}

package results

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionNotFound = errors.New("result session not found")
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// InvalidFilterError is returned by the compiler for enumeration members it
// does not recognise. It is never retryable.
type InvalidFilterError struct {
	Field string
	Value string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter: unknown %s %q", e.Field, e.Value)
}

// FetchError is a transport or backend failure. Status is 0 when no HTTP
// response was received.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch failed: %s", e.Message)
	}
	return fmt.Sprintf("fetch failed with status %d: %s", e.Status, e.Message)
}

// Retryable reports whether a caller may reasonably repeat the request.
// The core itself never retries.
func (e *FetchError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsInvalidFilter reports whether err is (or wraps) an InvalidFilterError.
func IsInvalidFilter(err error) bool {
	var ife *InvalidFilterError
	return errors.As(err, &ife)
}

// AsFetchError unwraps err into a FetchError when possible.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

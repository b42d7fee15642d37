package report

import (
	"errors"
	"fmt"
)

// ErrNotConfigured marks a report whose backend endpoint is unset.
var ErrNotConfigured = errors.New("report endpoint not configured")

// FetchError is a failed backend round for one source/environment.
type FetchError struct {
	Source string
	Env    string
	Status int // HTTP status, 0 for transport or decode failures
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s [%s]: http %d: %v", e.Source, e.Env, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s [%s]: %v", e.Source, e.Env, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

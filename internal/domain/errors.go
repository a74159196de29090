package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories and stores for missing records.
	ErrNotFound = errors.New("not found")
	// ErrAdmissionConflict means another bundle already holds the single-flight slot.
	ErrAdmissionConflict = errors.New("another bundle is active")
	// ErrStaleStatus means a compare-and-swap transition observed a different status.
	ErrStaleStatus = errors.New("bundle status changed concurrently")
	// ErrInFlight means a bundle for the same source is not in a terminal state.
	ErrInFlight = errors.New("bundle already in flight")
	// ErrNothingChanged marks a bundle whose content matches the live state.
	ErrNothingChanged = errors.New("no articles or images changed")
)

// ValidationError is reported before any external mutation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StoreError is returned when the article store or object store rejects a call.
type StoreError struct {
	Op     string
	Target string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Target)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// TimeoutError wraps a unit of work that exceeded its wall-clock budget.
type TimeoutError struct {
	Unit string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Unit, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrResourceConflict  = errors.New("court is already booked for this time")
	ErrResourceExhausted = errors.New("no free court for this time")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStorage           = errors.New("storage error")
	ErrInvalidTransition = errors.New("transition not allowed")
)

// ValidationError names the offending field. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a backing-store failure so callers can classify it with errors.Is(err, ErrStorage).
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ItemError records one failed item of a batch pass without aborting the pass.
type ItemError struct {
	Date      time.Time
	RuleID    string
	BookingID string
	Err       error
}

func (e ItemError) Error() string {
	switch {
	case e.RuleID != "":
		return fmt.Sprintf("%s rule %s: %v", e.Date.Format("2006-01-02"), e.RuleID, e.Err)
	case e.BookingID != "":
		return fmt.Sprintf("%s booking %s: %v", e.Date.Format("2006-01-02"), e.BookingID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Date.Format("2006-01-02"), e.Err)
	}
}

func (e ItemError) Unwrap() error {
	return e.Err
}

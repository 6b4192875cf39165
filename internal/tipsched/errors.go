package tipsched

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no schedule was saved yet.
	ErrNotConfigured = errors.New("tip scheduler not configured")
	// ErrNoTips is reported by a firing that found an empty tip store.
	ErrNoTips = errors.New("no tips stored")
)

// ValidationError rejects a schedule update before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("schedule store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// DeliveryError is a firing that could not reach the chat.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver tip to %d: %v", e.ChatID, e.Err)
}
func (e *DeliveryError) Unwrap() error { return e.Err }

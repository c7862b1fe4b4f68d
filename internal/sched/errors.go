package sched

import (
	"fmt"
	"time"
)

// SchedulerError wraps a fatal setup failure with the operation that caused
// it and when it happened, modeled on the teacher library's Error[T]
// (error.go): a thin wrapper that still supports errors.Is/errors.As against
// the underlying cause via Unwrap.
type SchedulerError struct {
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *SchedulerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *SchedulerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func fatal(op string, err error) *SchedulerError {
	if err == nil {
		return nil
	}
	return &SchedulerError{Op: op, Err: err, Timestamp: time.Now()}
}

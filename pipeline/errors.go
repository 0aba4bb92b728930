package pipeline

import "fmt"

// StageError is the terminal Failed(stage, cause) value of a job.
type StageError struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

// Error formats the failure for logs.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotificationError reports a mail that failed after the record was persisted.
type NotificationError struct {
	JobID string
	To    string
	Err   error
}

// Error formats the failure for logs.
func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s for job %s: %v", e.To, e.JobID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *NotificationError) Unwrap() error {
	return e.Err
}

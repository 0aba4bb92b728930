package pipeline

import "github.com/jupark12/voxnotes/models"

// Outcome is the result of one pipeline execution. Exactly one of Record and
// Failure is set. NotifyErr may accompany a Record when the mail could not be sent.
type Outcome struct {
	JobID     string
	Record    *models.JobRecord
	Failure   *StageError
	NotifyErr error
}

// Succeeded reports whether the job reached persistence.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil && o.Record != nil
}

// Failed reports whether a stage before notification failed.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// Notified reports whether the notification mail went out.
func (o Outcome) Notified() bool {
	return o.Succeeded() && o.NotifyErr == nil
}

// Label classifies the outcome for metrics and events.
func (o Outcome) Label() string {
	switch {
	case !o.Succeeded():
		return "failed"
	case o.NotifyErr != nil:
		return "partial"
	default:
		return "success"
	}
}

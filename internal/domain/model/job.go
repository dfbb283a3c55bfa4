package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind represents the type of asynchronous work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindExportCSV builds the completed-requests CSV artifact.
	JobKindExportCSV JobKind = "export_csv"
	// JobKindSendReminder emails professionals with open requests.
	JobKindSendReminder JobKind = "send_reminder"
	// JobKindSendReport emails each customer a monthly activity report.
	JobKindSendReport JobKind = "send_report"

	// JobStatusPending indicates the job is queued and not yet picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker is executing the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded indicates the job finished and its result is set.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job body returned or raised an error.
	JobStatusFailed JobStatus = "failed"
)

// ErrNoJobsAvailable is returned when no pending jobs exist to reserve.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobKind is a known kind.
func (k JobKind) Valid() bool {
	return k == JobKindExportCSV || k == JobKindSendReminder || k == JobKindSendReport
}

// RetrySafe reports whether a failed execution of this kind may be
// re-queued. Bulk mail kinds are idempotent per recipient batch; the CSV
// export is not retried automatically so a poller sees its first failure.
func (k JobKind) RetrySafe() bool {
	return k == JobKindSendReminder || k == JobKindSendReport
}

// UnmarshalText implements encoding.TextUnmarshaler for JobKind.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if !jk.Valid() {
		return fmt.Errorf("invalid job kind: %q", v)
	}
	*k = jk
	return nil
}

// Valid returns true if the JobStatus is a known status.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning ||
		s == JobStatusSucceeded || s == JobStatusFailed
}

// Finished reports whether the job reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is an asynchronously executed unit of work with a pollable handle.
// A job is created pending, reserved by exactly one worker, and terminated
// exactly once into succeeded or failed.
type Job struct {
	ID          string          `json:"id"                     db:"id"`
	Kind        JobKind         `json:"kind"                   db:"kind"`
	Status      JobStatus       `json:"status"                 db:"status"`
	Args        json.RawMessage `json:"args"                   db:"args"`
	Result      *string         `json:"result,omitempty"       db:"result"`
	LastError   *string         `json:"last_error,omitempty"   db:"last_error"`
	RetryCount  int             `json:"retry_count"            db:"retry_count"`
	MaxRetries  int             `json:"max_retries"            db:"max_retries"`
	SubmittedAt time.Time       `json:"submitted_at"           db:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"  db:"finished_at"`
}

// SubmitJobRequest carries the parameters for enqueueing a job.
type SubmitJobRequest struct {
	Kind JobKind         `json:"kind"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Validate checks the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid job kind: %q", r.Kind)
	}
	if len(r.Args) > 0 && !json.Valid(r.Args) {
		return errors.New("args must be valid JSON")
	}
	return nil
}

// JobView is the poller-facing snapshot of a job. Result is populated only
// for succeeded jobs and Error only for failed ones; a poller can never
// observe a partial result.
type JobView struct {
	ID         string     `json:"id"`
	Kind       JobKind    `json:"kind"`
	Status     JobStatus  `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

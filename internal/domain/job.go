package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobKind string

const (
	JobKindGenerate JobKind = "generate"
	JobKindRefine   JobKind = "refine"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) canMoveTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobRequest is the validated submission payload. OriginalText holds the
// decoded refine input, never the base64 wire form.
type JobRequest struct {
	SessionID     string `json:"session_id"`
	ReportType    string `json:"report_type"`
	CustomerID    string `json:"customer_id"`
	OpportunityID string `json:"opportunity_id"`
	SectionTitle  string `json:"section_title"`
	OriginalText  string `json:"original_text,omitempty"`
	Instruction   string `json:"instruction,omitempty"`
}

func (r JobRequest) SessionKey() SessionKey {
	return SessionKey{
		CustomerID:    r.CustomerID,
		OpportunityID: r.OpportunityID,
		ReportType:    r.ReportType,
	}
}

type JobResult struct {
	CustomerID    string `json:"customer_id"`
	OpportunityID string `json:"opportunity_id"`
	SectionTitle  string `json:"section_title"`
	Content       string `json:"content"`
}

type JobError struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"message"`
}

// Job is the canonical async unit driven by the executor.
type Job struct {
	ID        string     `json:"job_id"`
	Kind      JobKind    `json:"kind"`
	Status    JobStatus  `json:"status"`
	Request   JobRequest `json:"request"`
	Result    *JobResult `json:"result,omitempty"`
	Error     *JobError  `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewJob(id string, kind JobKind, request JobRequest, now time.Time) Job {
	return Job{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) transition(next JobStatus, now time.Time) error {
	if !j.Status.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

func (j *Job) Start(now time.Time) error {
	return j.transition(JobStatusProcessing, now)
}

func (j *Job) Complete(result JobResult, now time.Time) error {
	if err := j.transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Result = &result
	j.Error = nil
	return nil
}

func (j *Job) Fail(code ErrorCode, message string, now time.Time) error {
	if err := j.transition(JobStatusFailed, now); err != nil {
		return err
	}
	j.Result = nil
	j.Error = &JobError{Code: code, Message: message}
	return nil
}

// Clone returns a deep copy so readers never share pointers with writers.
func (j Job) Clone() Job {
	cloned := j
	if j.Result != nil {
		result := *j.Result
		cloned.Result = &result
	}
	if j.Error != nil {
		jobErr := *j.Error
		cloned.Error = &jobErr
	}
	return cloned
}

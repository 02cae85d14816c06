package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
)

// ErrJobNotFound is returned by a JobStore for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeStatementBatch is a batch of uploaded statements to extract and reconcile.
	JobTypeStatementBatch JobType = "statement_batch"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusStopped indicates the job was stopped on request before finishing.
	JobStatusStopped JobStatus = "stopped"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusStopped
}

// BatchItem is one uploaded file in a batch.
type BatchItem struct {
	FileName string `json:"file_name"`

	// Path is the object storage path of the uploaded bytes.
	Path string `json:"path"`
	Size int64  `json:"size"`

	// Optional hints supplied with the upload.
	BankID   string               `json:"bank_id,omitempty"`
	Kind     domain.StatementKind `json:"kind,omitempty"`
	Password string               `json:"-"`
}

// Progress counts processed items of a batch.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// ItemFailure describes one item that did not make it through a batch.
type ItemFailure struct {
	Index    int    `json:"index"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// Summary is the outcome of a finished batch.
type Summary struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Unmatched int           `json:"unmatched"`
	Failures  []ItemFailure `json:"failures"`
}

// BatchJob represents a batch of statements to extract and reconcile.
type BatchJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	CompanyID string      `json:"company_id,omitempty"`
	Assignee  string      `json:"assignee,omitempty"`
	Items     []BatchItem `json:"items"`

	// Status is the current status of the job.
	Status      JobStatus `json:"status"`
	Progress    Progress  `json:"progress"`
	CurrentItem string    `json:"current_item,omitempty"`
	Summary     *Summary  `json:"summary,omitempty"`

	// StopRequested asks the worker to stop before the next item.
	StopRequested bool `json:"stop_requested"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Clone returns a deep copy of the job.
func (j *BatchJob) Clone() *BatchJob {
	c := *j
	c.Items = append([]BatchItem(nil), j.Items...)
	if j.Summary != nil {
		s := *j.Summary
		s.Failures = append([]ItemFailure(nil), j.Summary.Failures...)
		c.Summary = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *BatchJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *BatchJob) GetType() JobType {
	return JobTypeStatementBatch
}

// GetStatus implements the Job interface.
func (j *BatchJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishBatch publishes a statement batch job.
	PublishBatch(ctx context.Context, job *BatchJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job state.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *BatchJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*BatchJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*BatchJob, error)

	// UpdateJobStatus updates the status of a job and stamps start/completion times.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error

	// UpdateProgress records how far a running batch has got.
	UpdateProgress(ctx context.Context, jobID string, progress Progress, currentItem string) error

	// SetSummary attaches the outcome of a finished batch.
	SetSummary(ctx context.Context, jobID string, summary Summary) error

	// RequestStop raises the cooperative stop flag.
	RequestStop(ctx context.Context, jobID string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// CompanyID filters jobs by company.
	CompanyID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

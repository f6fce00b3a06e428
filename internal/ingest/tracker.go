// Package ingest runs document ingestion: parse, chunk, embed, index,
// persist. Jobs execute asynchronously and report progress through a
// thread-safe tracker.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	docerrors "github.com/docsense/docsense/internal/errors"
)

// JobState is a job's lifecycle phase.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// terminal reports whether no further transitions are allowed.
func (s JobState) terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a snapshot of one ingestion job.
type Job struct {
	JobID    string   `json:"job_id"`
	DocID    string   `json:"doc_id"`
	FileName string   `json:"file_name"`
	State    JobState `json:"state"`
	// Progress is 0-100 and never decreases.
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds job state in memory. At most one non-terminal job may
// exist per document at a time.
type Tracker struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	activeByDoc map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs:        make(map[string]*Job),
		activeByDoc: make(map[string]string),
	}
}

// Create registers a pending job for a document. A second job for the
// same document is rejected while the first is still active.
func (t *Tracker) Create(docID, fileName string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activeID, ok := t.activeByDoc[docID]; ok {
		return Job{}, docerrors.Validation(
			fmt.Sprintf("document %s already has active job %s", docID, activeID))
	}

	now := time.Now().UTC()
	job := &Job{
		JobID:     uuid.NewString(),
		DocID:     docID,
		FileName:  fileName,
		State:     JobPending,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.jobs[job.JobID] = job
	t.activeByDoc[docID] = job.JobID
	return *job, nil
}

// Start transitions pending to processing.
func (t *Tracker) Start(jobID string) error {
	return t.transition(jobID, JobPending, JobProcessing, 0, "processing started", "")
}

// Progress records a checkpoint. Regressions are ignored so progress
// stays monotone; updates on non-processing jobs are rejected.
func (t *Tracker) Progress(jobID string, pct int, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return docerrors.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	if job.State != JobProcessing {
		return fmt.Errorf("job %s is %s, cannot record progress", jobID, job.State)
	}
	if pct > 100 {
		pct = 100
	}
	if pct > job.Progress {
		job.Progress = pct
	}
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the job done at 100%.
func (t *Tracker) Complete(jobID string) error {
	return t.transition(jobID, JobProcessing, JobCompleted, 100, "completed", "")
}

// Fail marks the job failed with the error preserved for status queries.
func (t *Tracker) Fail(jobID string, cause error) error {
	msg := "ingestion failed"
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return t.transition(jobID, JobProcessing, JobFailed, -1, msg, detail)
}

// Get returns a snapshot of the job.
func (t *Tracker) Get(jobID string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return Job{}, docerrors.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	return *job, nil
}

// ActiveJobForDoc returns the active job ID for a document, if any.
func (t *Tracker) ActiveJobForDoc(docID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.activeByDoc[docID]
	return id, ok
}

func (t *Tracker) transition(jobID string, from, to JobState, progress int, message, errDetail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return docerrors.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	if job.State != from {
		return fmt.Errorf("job %s: invalid transition %s -> %s", jobID, job.State, to)
	}

	job.State = to
	if progress >= 0 && progress > job.Progress {
		job.Progress = progress
	}
	job.Message = message
	job.Error = errDetail
	job.UpdatedAt = time.Now().UTC()

	if to.terminal() {
		delete(t.activeByDoc, job.DocID)
	}
	return nil
}

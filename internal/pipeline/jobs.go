package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/docembed/internal/doctree"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusParsing   JobStatus = "parsing"
	StatusChunking  JobStatus = "chunking"
	StatusEmbedding JobStatus = "embedding"
	StatusStoring   JobStatus = "storing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusPartial   JobStatus = "partial"
)

// Job tracks the state of a single document ingestion.
type Job struct {
	mu sync.Mutex

	ID        string `json:"job_id"`
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`
	FileID string    `json:"file_id,omitempty"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData   []byte
	credential string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int                   `json:"total_chunks"`
	ChunksProcessed int                   `json:"chunks_processed"`
	Embedded        int                   `json:"embedded"`
	Stored          int                   `json:"stored"`
	TotalTokens     int                   `json:"total_tokens"`
	Errors          []doctree.IngestError `json:"errors"`
}

// NewJob creates a queued job for one uploaded file.
func NewJob(id, projectID, path string, data []byte, credential string) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		ProjectID:  projectID,
		Path:       path,
		Status:     StatusQueued,
		Phase:      "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
		fileData:   data,
		credential: credential,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// IncrChunksProcessed atomically increments chunks processed.
func (j *Job) IncrChunksProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksProcessed++
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// Finish records the pipeline result and the terminal status it implies.
// The upload is released.
func (j *Job) Finish(res Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FileID = res.FileID
	j.Progress.TotalChunks = res.Chunks
	j.Progress.Embedded = res.Embedded
	j.Progress.Stored = res.Stored
	j.Progress.TotalTokens = res.TotalTokens
	j.Progress.Errors = append(j.Progress.Errors, res.Errors...)
	j.Status = res.Status()
	j.Phase = "done"
	j.UpdatedAt = time.Now()
	j.fileData = nil
}

// Fail marks the job failed without a pipeline result.
func (j *Job) Fail(phase, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Errors = append(j.Progress.Errors, doctree.IngestError{Path: j.Path, Message: msg})
	j.Status = StatusFailed
	j.Phase = phase
	j.UpdatedAt = time.Now()
	j.fileData = nil
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// Source returns the document the job ingests.
func (j *Job) Source() doctree.SourceDocument {
	j.mu.Lock()
	defer j.mu.Unlock()
	return doctree.SourceDocument{
		ProjectID:  j.ProjectID,
		Path:       j.Path,
		Content:    j.fileData,
		Credential: j.credential,
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	FileID    string    `json:"file_id,omitempty"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]doctree.IngestError, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	progress := j.Progress
	progress.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Path:      j.Path,
		Status:    j.Status,
		Phase:     j.Phase,
		FileID:    j.FileID,
		Progress:  progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

package models

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job represents one migration run as seen by the status server.
type Job struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`   // "migration" or "resume"
	Status     string       `json:"status"` // "running", "completed", "failed", "interrupted"
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	Step       string       `json:"step,omitempty"`
	Steps      []StepReport `json:"steps"`
	Output     []string     `json:"output"`
	mu         sync.Mutex
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// StartStep records the step currently running.
func (j *Job) StartStep(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Step = name
}

// FinishStep appends the outcome of a step.
func (j *Job) FinishStep(r StepReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Step = ""
	j.Steps = append(j.Steps, r)
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status != "running"
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish("completed", "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish("failed", err)
}

// Interrupt marks the job as stopped by a signal.
func (j *Job) Interrupt() {
	j.finish("interrupted", "")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Error = err
	j.Step = ""
	now := time.Now()
	j.FinishedAt = &now
}

// Snapshot returns a copy safe to serialize while the job is still running.
func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Job{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Error:      j.Error,
		Step:       j.Step,
		Steps:      append([]StepReport(nil), j.Steps...),
		Output:     append([]string(nil), j.Output...),
	}
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new running job, assigning it a UUID.
func (s *JobStore) Create(jobType string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    "running",
		StartedAt: time.Now(),
		Steps:     []StepReport{},
		Output:    []string{},
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}

// Package jobs implements the background-job registry (§4.11): a
// process-wide, in-memory, mutex-protected map of jobs that outlive the
// request that started them. Grounded on pkg/docstore/store.go's
// map[string]*T + sync.RWMutex pattern.
package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// Kind is one of the four background-job types the engine runs.
type Kind string

const (
	KindChronicleGen Kind = "chronicle_gen"
	KindMemopediaGen Kind = "memopedia_gen"
	KindReembed      Kind = "reembed"
	KindImport       Kind = "import"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one tracked background operation.
type Job struct {
	ID             string
	PersonaID      string
	Kind           Kind
	Status         Status
	Progress       int
	Total          int
	Message        string
	EntriesCreated int
	Error          string
	ErrorCode      string
	ErrorDetail    string
	ErrorMeta      map[string]any
	CreatedAt      int64
}

// snapshot returns a copy safe to hand to a caller outside the lock.
func (j *Job) snapshot() *Job {
	cp := *j
	if j.ErrorMeta != nil {
		cp.ErrorMeta = make(map[string]any, len(j.ErrorMeta))
		for k, v := range j.ErrorMeta {
			cp.ErrorMeta[k] = v
		}
	}
	return &cp
}

// Registry is the process-wide job table.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create registers a new pending job and returns its snapshot.
func (r *Registry) Create(personaID string, kind Kind) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
	return j.snapshot()
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

// ListByPersona returns every job for personaID, oldest first by CreatedAt;
// jobs created within the same second are in no defined order.
func (r *Registry) ListByPersona(personaID string) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.PersonaID == personaID {
			out = append(out, j.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func (r *Registry) SetRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = StatusRunning
	}
}

// UpdateProgress reports incremental progress; message is optional
// free-text status.
func (r *Registry) UpdateProgress(id string, progress, total int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	j.Progress = progress
	j.Total = total
	if message != "" {
		j.Message = message
	}
}

// Complete marks a job finished successfully.
func (r *Registry) Complete(id string, entriesCreated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = StatusCompleted
		j.EntriesCreated = entriesCreated
	}
}

// Fail marks a job failed, extracting a weaveerr.Error's kind, LLM code and
// batch metadata when present so the caller can surface a recognizable
// error rather than a flat string.
func (r *Registry) Fail(id string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	j.Status = StatusFailed
	j.Error = cause.Error()

	var werr *weaveerr.Error
	if !errors.As(cause, &werr) {
		return
	}
	j.ErrorCode = werr.Kind().String()
	if werr.LLMCode != "" {
		j.ErrorDetail = string(werr.LLMCode)
	}
	if werr.BatchMeta != nil {
		meta := map[string]any{"message_ids": werr.BatchMeta.MessageIDs}
		if werr.BatchMeta.StartTime != nil {
			meta["start_time"] = *werr.BatchMeta.StartTime
		}
		if werr.BatchMeta.EndTime != nil {
			meta["end_time"] = *werr.BatchMeta.EndTime
		}
		j.ErrorMeta = meta
	}
}

// RequestCancel transitions a pending/running job to cancelling. It is a
// no-op (not an error) for a job already in a terminal state.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return weaveerr.NotFound("job %s", id)
	}
	if j.Status == StatusPending || j.Status == StatusRunning {
		j.Status = StatusCancelling
	}
	return nil
}

// MarkCancelled records a job as cancelled with whatever partial work it
// produced before stopping.
func (r *Registry) MarkCancelled(id string, entriesCreated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = StatusCancelled
		j.EntriesCreated = entriesCreated
	}
}

// IsCancelling reports whether a cancellation has been requested. Generators
// poll this between batches and between runs.
func (r *Registry) IsCancelling(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return ok && j.Status == StatusCancelling
}

// CancelledFunc returns a closure satisfying the Chronicle generator's
// `cancelled func() bool` polling signature for a specific job.
func (r *Registry) CancelledFunc(id string) func() bool {
	return func() bool { return r.IsCancelling(id) }
}

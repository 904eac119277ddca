package jobs

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the single source of truth for job records. All access goes
// through its serialized operations; callers always receive snapshots, never
// the stored record itself.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
	}
}

// Create stores a new queued job and returns its snapshot.
func (r *Registry) Create(payload any) *Job {
	now := time.Now()
	job := &Job{
		ID:        newJobID(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return cloneJob(job)
}

// Get returns a snapshot of the job, or false when the id is unknown or was
// already reclaimed by the sweeper. Absence is not an error.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Update sets the status and refreshes UpdatedAt. A non-empty errMsg
// overwrites the stored error; a non-nil result overwrites the stored result
// (full replace — callers pass the complete aggregate they want visible).
// Updating an absent id is a no-op so a late pipeline completion can race the
// sweeper without consequence.
func (r *Registry) Update(id string, status Status, errMsg string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	if errMsg != "" {
		job.Error = errMsg
	}
	if result != nil {
		job.Result = result
	}
}

// Delete removes the record. Returns false when the id was already gone.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// List returns snapshots of every record in no particular order.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret
}

// Stats returns per-status counts plus a total.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total":                 len(r.jobs),
		string(StatusQueued):    0,
		string(StatusRunning):   0,
		string(StatusSucceeded): 0,
		string(StatusFailed):    0,
		string(StatusExpired):   0,
	}
	for _, job := range r.jobs {
		stats[string(job.Status)]++
	}
	return stats
}

// cloneJob is a shallow copy. Writers never mutate a result value after
// handing it to Update, so sharing the Result pointer across snapshots is
// safe.
func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}

func newJobID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

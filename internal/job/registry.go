package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when a job ID is unknown to the registry.
var ErrNotFound = errors.New("job not found")

// Registry is the in-memory store for in-flight and recently finished
// jobs. Terminal jobs are kept for the retention window so monitoring
// endpoints can still report them, then pruned by a background sweep.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	logger    *slog.Logger
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry and starts its prune loop.
func NewRegistry(logger *slog.Logger, retention time.Duration) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		jobs:      make(map[string]*Job),
		logger:    logger,
		retention: retention,
		ctx:       ctx,
		cancel:    cancel,
	}

	r.wg.Add(1)
	go r.pruneLoop()

	return r
}

// Stop terminates the prune loop.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Add registers a new job.
func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// Get returns a snapshot of a job.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return j.snapshot(), nil
}

// Transition advances a job to the next pipeline status. Invalid edges
// are rejected so a stage can never be skipped or revisited.
func (r *Registry) Transition(id string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", j.Status, to)
	}

	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if to.IsTerminal() {
		close(j.done)
	}
	return nil
}

// Complete records the transcript and moves the job to Done.
func (r *Registry) Complete(id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, StatusDone) {
		return fmt.Errorf("invalid transition: %s -> %s", j.Status, StatusDone)
	}

	j.Status = StatusDone
	j.ResultText = text
	j.UpdatedAt = time.Now().UTC()
	close(j.done)
	return nil
}

// Fail moves the job to Failed with a reason. Valid from any
// non-terminal status.
func (r *Registry) Fail(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("invalid transition: %s -> %s", j.Status, StatusFailed)
	}

	j.Status = StatusFailed
	j.FailReason = reason
	j.UpdatedAt = time.Now().UTC()
	close(j.done)
	return nil
}

// Remove drops a job regardless of status. Used when a job is rejected
// before it ever enters the pipeline, so rejected submissions do not
// accumulate as permanently queued entries.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// ReleaseAudio drops the fetched audio bytes once decoding is finished.
func (r *Registry) ReleaseAudio(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[id]; ok {
		j.RawAudio = nil
	}
}

// Wait blocks until the job reaches a terminal state or the context
// expires, and returns the final snapshot.
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	select {
	case <-j.done:
		return r.Get(id)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Count returns the number of tracked jobs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// pruneLoop periodically removes terminal jobs older than the retention
// window.
func (r *Registry) pruneLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.prune(time.Now().UTC())
		}
	}
}

func (r *Registry) prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, j := range r.jobs {
		if j.Status.IsTerminal() && now.Sub(j.UpdatedAt) > r.retention {
			delete(r.jobs, id)
			r.logger.Debug("Pruned finished job",
				slog.String("job_id", id),
				slog.String("status", string(j.Status)),
			)
		}
	}
}

package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

func liveKey(queue, key string) string { return queue + "/" + key }

// EnqueueJob inserts job unless a live job with the same queue and key exists, in which
// case the existing job is returned and created is false.
func (m *Memory) EnqueueJob(_ context.Context, job model.Job) (model.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Queue == "" {
		return model.Job{}, false, errs.Validation("job queue is required")
	}
	if job.Key != "" {
		if id, ok := m.liveKeys[liveKey(job.Queue, job.Key)]; ok {
			return copyJob(m.jobs[id]), false, nil
		}
	}
	now := m.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.State == "" {
		job.State = model.JobWaiting
		if job.RunAt.After(now) {
			job.State = model.JobDelayed
		}
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	job.CreatedAt, job.UpdatedAt = now, now
	j := job
	m.jobs[j.ID] = &j
	if j.Key != "" {
		m.liveKeys[liveKey(j.Queue, j.Key)] = j.ID
	}
	return copyJob(&j), true, nil
}

// ClaimJobs leases up to limit runnable jobs, highest priority first then oldest runAt.
func (m *Memory) ClaimJobs(_ context.Context, queue string, limit int, lease time.Duration) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var ready []*model.Job
	for _, j := range m.jobs {
		if j.Queue != queue {
			continue
		}
		if (j.State == model.JobWaiting || j.State == model.JobDelayed) && !j.RunAt.After(now) {
			ready = append(ready, j)
		}
	}
	sort.Slice(ready, func(a, b int) bool {
		if ready[a].Priority != ready[b].Priority {
			return ready[a].Priority > ready[b].Priority
		}
		if !ready[a].RunAt.Equal(ready[b].RunAt) {
			return ready[a].RunAt.Before(ready[b].RunAt)
		}
		return ready[a].CreatedAt.Before(ready[b].CreatedAt)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]model.Job, 0, len(ready))
	for _, j := range ready {
		until := now.Add(lease)
		j.State = model.JobActive
		j.Attempts++
		j.LockedUntil = &until
		j.UpdatedAt = now
		out = append(out, copyJob(j))
	}
	return out, nil
}

func (m *Memory) CompleteJob(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	now := m.now()
	j.State = model.JobCompleted
	j.Progress = 100
	j.Result = append(json.RawMessage(nil), result...)
	j.LockedUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	m.release(j)
	return nil
}

func (m *Memory) RetryJob(_ context.Context, id string, runAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	j.State = model.JobDelayed
	j.RunAt = runAt
	j.LastError = lastError
	j.LockedUntil = nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) FailJob(_ context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	now := m.now()
	j.State = model.JobFailed
	j.LastError = lastError
	j.LockedUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	m.release(j)
	return nil
}

func (m *Memory) TouchJob(_ context.Context, id string, progress int, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	if j.State != model.JobActive {
		return nil
	}
	now := m.now()
	if progress >= 0 {
		j.Progress = progress
	}
	if lease > 0 {
		until := now.Add(lease)
		j.LockedUntil = &until
	}
	j.UpdatedAt = now
	return nil
}

// RecoverStalledJobs puts active jobs whose lease expired back in line, or fails them
// once they have used every attempt.
func (m *Memory) RecoverStalledJobs(_ context.Context, queue string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	requeued, failed := 0, 0
	for _, j := range m.jobs {
		if j.Queue != queue || j.State != model.JobActive || j.LockedUntil == nil || j.LockedUntil.After(now) {
			continue
		}
		j.LockedUntil = nil
		j.UpdatedAt = now
		if j.Attempts >= j.MaxAttempts {
			j.State = model.JobFailed
			j.LastError = "job stalled more than allowable limit"
			j.FinishedAt = &now
			m.release(j)
			failed++
			continue
		}
		j.State = model.JobWaiting
		j.RunAt = now
		requeued++
	}
	return requeued, failed, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, notFound("job", id)
	}
	return copyJob(j), nil
}

func (m *Memory) ListJobs(_ context.Context, queue string, state model.JobState, limit int) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Job{}
	for _, j := range m.jobs {
		if queue != "" && j.Queue != queue {
			continue
		}
		if state != "" && j.State != state {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RequeueJob moves a failed job back to waiting with a fresh attempt budget.
func (m *Memory) RequeueJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	if j.State != model.JobFailed {
		return errs.Validation("job %s is %s, only failed jobs can be retried", id, j.State)
	}
	if j.Key != "" {
		if other, ok := m.liveKeys[liveKey(j.Queue, j.Key)]; ok && other != j.ID {
			return errs.Validation("job %s has a live duplicate %s", id, other)
		}
		m.liveKeys[liveKey(j.Queue, j.Key)] = j.ID
	}
	now := m.now()
	j.State = model.JobWaiting
	j.Attempts = 0
	j.RunAt = now
	j.FinishedAt = nil
	j.UpdatedAt = now
	return nil
}

func (m *Memory) CountJobs(_ context.Context, queue string) (model.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c model.QueueCounts
	for _, j := range m.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case model.JobWaiting:
			c.Waiting++
		case model.JobDelayed:
			c.Delayed++
		case model.JobActive:
			c.Active++
		case model.JobCompleted:
			c.Completed++
		case model.JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

// ClearQueue drops every job of queue that is not currently active.
func (m *Memory) ClearQueue(_ context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.Queue != queue || j.State == model.JobActive {
			continue
		}
		m.release(j)
		delete(m.jobs, id)
	}
	return nil
}

// release frees the dedupe slot held by j. Caller holds mu.
func (m *Memory) release(j *model.Job) {
	if j.Key == "" {
		return
	}
	k := liveKey(j.Queue, j.Key)
	if m.liveKeys[k] == j.ID {
		delete(m.liveKeys, k)
	}
}

func copyJob(j *model.Job) model.Job {
	out := *j
	out.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		out.LockedUntil = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

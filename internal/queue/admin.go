package queue

import (
	"context"

	"go.uber.org/zap"

	"syncgate/internal/metrics"
	"syncgate/internal/model"
)

// Stats are one queue's counts plus its runtime state.
type Stats struct {
	model.QueueCounts
	Paused      bool `json:"paused"`
	Concurrency int  `json:"concurrency"`
}

// Stats reports every queue. Failed jobs stay counted until requeued or cleared.
func (s *Service) Stats(ctx context.Context) (map[string]Stats, error) {
	out := make(map[string]Stats, len(s.queues))
	for _, name := range s.Queues() {
		q := s.queues[name]
		c, err := s.store.CountJobs(ctx, name)
		if err != nil {
			return nil, err
		}
		metrics.QueueDepth.WithLabelValues(name, string(model.JobWaiting)).Set(float64(c.Waiting))
		metrics.QueueDepth.WithLabelValues(name, string(model.JobActive)).Set(float64(c.Active))
		metrics.QueueDepth.WithLabelValues(name, string(model.JobDelayed)).Set(float64(c.Delayed))
		metrics.QueueDepth.WithLabelValues(name, string(model.JobFailed)).Set(float64(c.Failed))
		out[name] = Stats{QueueCounts: c, Paused: q.paused.Load(), Concurrency: q.cfg.Concurrency}
	}
	return out, nil
}

// Pause stops new job starts on queue; running jobs finish.
func (s *Service) Pause(queue string) error {
	q, err := s.queue(queue)
	if err != nil {
		return err
	}
	q.paused.Store(true)
	s.logger.Info("queue paused", zap.String("queue", queue))
	return nil
}

func (s *Service) Resume(queue string) error {
	q, err := s.queue(queue)
	if err != nil {
		return err
	}
	q.paused.Store(false)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	s.logger.Info("queue resumed", zap.String("queue", queue))
	return nil
}

// Clear discards every job of queue that is not running. Not safe under live traffic.
func (s *Service) Clear(ctx context.Context, queue string) error {
	if _, err := s.queue(queue); err != nil {
		return err
	}
	if err := s.store.ClearQueue(ctx, queue); err != nil {
		return err
	}
	s.logger.Warn("queue cleared", zap.String("queue", queue))
	return nil
}

func (s *Service) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, queue string, state model.JobState, limit int) ([]model.Job, error) {
	if queue != "" {
		if _, err := s.queue(queue); err != nil {
			return nil, err
		}
	}
	return s.store.ListJobs(ctx, queue, state, limit)
}

// RetryFailed moves a failed (dead-lettered) job back to waiting with a fresh attempt budget.
func (s *Service) RetryFailed(ctx context.Context, id string) (model.Job, error) {
	if err := s.store.RequeueJob(ctx, id); err != nil {
		return model.Job{}, err
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	if q, ok := s.queues[job.Queue]; ok {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	s.logger.Info("failed job requeued", zap.String("queue", job.Queue), zap.String("job", id))
	return job, nil
}

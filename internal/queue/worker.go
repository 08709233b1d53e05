package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/errs"
	"syncgate/internal/events"
	"syncgate/internal/metrics"
	"syncgate/internal/model"
)

// Start launches one dispatcher per queue. Stop ends them and waits for in-flight jobs.
func (s *Service) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for _, name := range s.Queues() {
		q := s.queues[name]
		if q.handler == nil {
			s.logger.Warn("queue has no handler, not started", zap.String("queue", name))
			continue
		}
		s.wg.Add(1)
		go s.dispatch(ctx, q)
	}
}

func (s *Service) Stop() {
	if !s.started.Load() {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
	s.running.Wait()
}

func (s *Service) dispatch(ctx context.Context, q *queueState) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	stalled := time.NewTicker(s.stalled)
	defer stalled.Stop()
	s.recoverStalled(ctx, q)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-stalled.C:
			s.recoverStalled(ctx, q)
		case <-ticker.C:
		case <-q.wake:
		}
		s.fill(ctx, q)
	}
}

// fill claims as many jobs as there are free worker slots and starts them.
func (s *Service) fill(ctx context.Context, q *queueState) {
	if q.paused.Load() {
		return
	}
	free := cap(q.sem) - len(q.sem)
	if free <= 0 {
		return
	}
	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	jobs, err := s.store.ClaimJobs(claimCtx, q.cfg.Name, free, q.cfg.Lease)
	cancel()
	if err != nil {
		s.logger.Warn("claim failed", zap.String("queue", q.cfg.Name), zap.Error(err))
		return
	}
	for _, job := range jobs {
		q.sem <- struct{}{}
		s.running.Add(1)
		go func(job model.Job) {
			defer func() {
				<-q.sem
				s.running.Done()
			}()
			s.run(context.WithoutCancel(ctx), q, job)
		}(job)
	}
}

// ProcessNext claims and runs up to limit ready jobs of queue on the calling goroutine.
// It ignores pause and is meant for tests and one-shot draining.
func (s *Service) ProcessNext(ctx context.Context, queue string, limit int) (int, error) {
	q, err := s.queue(queue)
	if err != nil {
		return 0, err
	}
	if q.handler == nil {
		return 0, errs.Configuration("queue %s has no handler", queue)
	}
	jobs, err := s.store.ClaimJobs(ctx, queue, limit, q.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		s.run(ctx, q, job)
	}
	return len(jobs), nil
}

func (s *Service) recoverStalled(ctx context.Context, q *queueState) {
	requeued, failed, err := s.store.RecoverStalledJobs(ctx, q.cfg.Name)
	if err != nil {
		s.logger.Warn("stalled recovery failed", zap.String("queue", q.cfg.Name), zap.Error(err))
		return
	}
	if requeued+failed > 0 {
		metrics.QueueJobs.WithLabelValues(q.cfg.Name, "stalled").Add(float64(requeued + failed))
		s.logger.Warn("stalled jobs recovered", zap.String("queue", q.cfg.Name), zap.Int("requeued", requeued), zap.Int("failed", failed))
	}
}

func (s *Service) run(ctx context.Context, q *queueState, job model.Job) {
	log := s.logger.With(zap.String("queue", job.Queue), zap.String("job", job.ID), zap.Int("attempt", job.Attempts))
	start := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues(job.Queue).Observe(time.Since(start).Seconds())
	}()

	if job.Key != "" && s.cache != nil {
		cached, found, err := s.cache.Get(ctx, cacheKey(job))
		if err != nil {
			log.Warn("idempotency lookup failed", zap.Error(err))
		} else if found {
			if err := s.store.CompleteJob(ctx, job.ID, cached); err != nil {
				log.Error("complete cached job", zap.Error(err))
				return
			}
			metrics.QueueJobs.WithLabelValues(job.Queue, "cached").Inc()
			log.Info("job satisfied from idempotency cache")
			s.publish(job, events.JobCompleted, map[string]any{"cached": true})
			return
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go s.heartbeat(hbCtx, q, job.ID)
	progress := func(p int) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if err := s.store.TouchJob(ctx, job.ID, p, q.cfg.Lease); err != nil {
			log.Debug("progress update failed", zap.Error(err))
		}
		s.publish(job, events.JobProgress, map[string]any{"progress": p})
	}
	res, err := s.invoke(ctx, q.handler, job, progress)
	stopHeartbeat()

	if err != nil {
		s.failed(ctx, q, job, err, log)
		return
	}
	body, mErr := json.Marshal(res)
	if mErr != nil {
		s.failed(ctx, q, job, errs.Wrap(mErr, errs.KindInternal, "encode job result"), log)
		return
	}
	if job.Key != "" && s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(job), body, s.cacheTTL); err != nil {
			log.Warn("idempotency write failed", zap.Error(err))
		}
	}
	if err := s.store.CompleteJob(ctx, job.ID, body); err != nil {
		log.Error("complete job", zap.Error(err))
		return
	}
	metrics.QueueJobs.WithLabelValues(job.Queue, "completed").Inc()
	data := map[string]any{}
	if res != nil {
		data["success"] = res.Success
		data["recordsProcessed"] = res.RecordsProcessed
	}
	log.Info("job completed", zap.Duration("took", time.Since(start)))
	s.publish(job, events.JobCompleted, data)
}

func (s *Service) invoke(ctx context.Context, h Handler, job model.Job, progress func(int)) (res *model.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.KindInternal, "job handler panicked: %v", r)
		}
	}()
	return h(ctx, job, progress)
}

// failed retries job after the policy's backoff, or fails it when the error is not
// retryable or attempts are exhausted.
func (s *Service) failed(ctx context.Context, q *queueState, job model.Job, cause error, log *zap.Logger) {
	msg := cause.Error()
	if !errs.IsRetryable(cause) || job.Attempts >= job.MaxAttempts {
		if err := s.store.FailJob(ctx, job.ID, msg); err != nil {
			log.Error("fail job", zap.Error(err))
			return
		}
		metrics.QueueJobs.WithLabelValues(job.Queue, "failed").Inc()
		log.Warn("job failed", zap.String("kind", string(errs.KindOf(cause))), zap.Error(cause))
		s.publish(job, events.JobFailed, map[string]any{"error": msg, "attempts": job.Attempts})
		return
	}
	delay := q.cfg.Retry.NextDelay(job.Attempts)
	if err := s.store.RetryJob(ctx, job.ID, s.now().Add(delay), msg); err != nil {
		log.Error("retry job", zap.Error(err))
		return
	}
	metrics.QueueJobs.WithLabelValues(job.Queue, "retried").Inc()
	log.Info("job will retry", zap.Duration("in", delay), zap.Error(cause))
	s.publish(job, events.JobRetrying, map[string]any{"error": msg, "attempts": job.Attempts, "retryInMs": delay.Milliseconds()})
}

// heartbeat extends the lease while the handler runs so only dead workers stall.
func (s *Service) heartbeat(ctx context.Context, q *queueState, id string) {
	ticker := time.NewTicker(q.cfg.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.TouchJob(ctx, id, -1, q.cfg.Lease); err != nil {
				s.logger.Debug("lease extension failed", zap.String("job", id), zap.Error(err))
			}
		}
	}
}

func cacheKey(job model.Job) string {
	return fmt.Sprintf("%s:%s", job.Queue, job.Key)
}

package integration

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/store"
)

// Enqueuer accepts sync jobs.
type Enqueuer interface {
	AddJob(ctx context.Context, queueName string, payload any, opts queue.JobOptions) (model.Job, bool, error)
}

// Scheduler enqueues a full sync for every active integration whose settings.syncInterval
// has elapsed since its last sync. Integrations in error state wait for an operator.
type Scheduler struct {
	svc    *Service
	jobs   Enqueuer
	every  time.Duration
	logger *zap.Logger
	now    func() time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewScheduler(svc *Service, jobs Enqueuer, every time.Duration, logger *zap.Logger) *Scheduler {
	if every <= 0 {
		every = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{svc: svc, jobs: jobs, every: every, logger: logger.With(zap.String("component", "scheduler")), now: time.Now, stop: make(chan struct{})}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					s.logger.Warn("schedule pass failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Tick runs one scheduling pass and returns how many jobs it created.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	list, err := s.svc.store.ListIntegrations(ctx, store.IntegrationFilter{Status: model.StatusActive})
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	created := 0
	for _, cfg := range list {
		interval := SyncInterval(cfg)
		if interval <= 0 {
			continue
		}
		if cfg.LastSyncAt != nil && now.Sub(*cfg.LastSyncAt) < interval {
			continue
		}
		job := model.SyncJob{
			IntegrationID: cfg.ID,
			SyncType:      model.SyncFull,
			SourceVersion: SourceVersion(cfg) + "@" + now.Truncate(interval).Format(time.RFC3339),
			Metadata:      map[string]any{"trigger": "schedule"},
		}
		saved, isNew, err := s.jobs.AddJob(ctx, model.QueueSync, job, queue.JobOptions{})
		if err != nil {
			s.logger.Warn("schedule sync failed", zap.String("integration", cfg.ID), zap.Error(err))
			continue
		}
		if isNew {
			created++
			s.logger.Info("scheduled sync", zap.String("integration", cfg.ID), zap.String("job", saved.ID))
		}
	}
	return created, nil
}

// SyncInterval reads settings.syncInterval as a Go duration string ("15m") or a number of
// minutes. Zero disables scheduling.
func SyncInterval(cfg model.IntegrationConfig) time.Duration {
	switch v := cfg.Settings[model.SettingSyncInterval].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Minute
		}
	case float64:
		return time.Duration(v * float64(time.Minute))
	case int:
		return time.Duration(v) * time.Minute
	}
	return 0
}

// Package queue runs the sync, webhook and export job queues on top of a durable job store.
//
// Delivery is at least once: a job whose worker dies is found by stalled recovery and run
// again. Business effects stay at most once because every successful result is cached under
// the job's idempotency key and a redelivered job returns the cached result instead of
// calling its handler.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/errs"
	"syncgate/internal/events"
	"syncgate/internal/idempotency"
	"syncgate/internal/model"
)

// JobStore is the durable queue runtime.
type JobStore interface {
	EnqueueJob(ctx context.Context, job model.Job) (model.Job, bool, error)
	ClaimJobs(ctx context.Context, queue string, limit int, lease time.Duration) ([]model.Job, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error
	FailJob(ctx context.Context, id string, lastError string) error
	TouchJob(ctx context.Context, id string, progress int, lease time.Duration) error
	RecoverStalledJobs(ctx context.Context, queue string) (requeued, failed int, err error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, queue string, state model.JobState, limit int) ([]model.Job, error)
	RequeueJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context, queue string) (model.QueueCounts, error)
	ClearQueue(ctx context.Context, queue string) error
}

// Handler executes one job. progress accepts 0..100 and may be called any number of times.
// A returned error is retried per the queue's policy unless its errs kind is not retryable.
type Handler func(ctx context.Context, job model.Job, progress func(int)) (*model.SyncResult, error)

type Options struct {
	Queues         []QueueConfig
	Broker         events.Broker
	Logger         *zap.Logger
	PollInterval   time.Duration
	StalledEvery   time.Duration
	ResultCacheTTL time.Duration
}

type JobOptions struct {
	Priority int
	Delay    time.Duration
	// Key overrides the derived idempotency key.
	Key string
}

type queueState struct {
	cfg     QueueConfig
	handler Handler
	paused  atomic.Bool
	sem     chan struct{}
	wake    chan struct{}
}

// Service owns the named queues and their workers.
type Service struct {
	store  JobStore
	cache  idempotency.Store
	broker events.Broker
	logger *zap.Logger

	queues   map[string]*queueState
	poll     time.Duration
	stalled  time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	stop    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup
	running sync.WaitGroup
}

func New(store JobStore, cache idempotency.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Broker == nil {
		opts.Broker = events.Discard{}
	}
	if len(opts.Queues) == 0 {
		opts.Queues = DefaultQueues()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StalledEvery <= 0 {
		opts.StalledEvery = 30 * time.Second
	}
	if opts.ResultCacheTTL <= 0 {
		opts.ResultCacheTTL = idempotency.DefaultTTL
	}
	s := &Service{
		store:    store,
		cache:    cache,
		broker:   opts.Broker,
		logger:   opts.Logger.With(zap.String("component", "queue")),
		queues:   map[string]*queueState{},
		poll:     opts.PollInterval,
		stalled:  opts.StalledEvery,
		cacheTTL: opts.ResultCacheTTL,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, c := range opts.Queues {
		c = c.withDefaults()
		s.queues[c.Name] = &queueState{cfg: c, sem: make(chan struct{}, c.Concurrency), wake: make(chan struct{}, 1)}
	}
	return s
}

// Handle installs the handler for a queue. It must be called before Start.
func (s *Service) Handle(queue string, h Handler) error {
	q, err := s.queue(queue)
	if err != nil {
		return err
	}
	q.handler = h
	return nil
}

func (s *Service) queue(name string) (*queueState, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, errs.NotFound("queue %q not found", name)
	}
	return q, nil
}

// Queues lists the configured queue names, built-in queues first.
func (s *Service) Queues() []string {
	rank := map[string]int{model.QueueSync: 0, model.QueueWebhook: 1, model.QueueExport: 2}
	out := make([]string, 0, len(s.queues))
	for name := range s.queues {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return out[i] < out[j]
	})
	return out
}

// AddJob enqueues payload under its idempotency key. While a job with the same key is
// waiting, delayed or active, the existing job is returned and created is false.
func (s *Service) AddJob(ctx context.Context, queue string, payload any, opts JobOptions) (model.Job, bool, error) {
	q, err := s.queue(queue)
	if err != nil {
		return model.Job{}, false, err
	}
	key, err := deriveKey(queue, payload)
	if err != nil {
		return model.Job{}, false, err
	}
	if opts.Key != "" {
		key = opts.Key
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.Job{}, false, errs.Validation("encode job payload: %v", err)
	}
	priority := opts.Priority
	if sj, ok := payload.(model.SyncJob); ok && priority == 0 {
		priority = sj.Priority
	}
	job := model.Job{
		Queue:       queue,
		Key:         key,
		Payload:     body,
		Priority:    priority,
		MaxAttempts: q.cfg.Retry.Attempts,
	}
	if opts.Delay > 0 {
		job.RunAt = s.now().Add(opts.Delay)
	}
	saved, created, err := s.store.EnqueueJob(ctx, job)
	if err != nil {
		return model.Job{}, false, err
	}
	if created {
		s.logger.Info("job added", zap.String("queue", queue), zap.String("job", saved.ID), zap.String("key", key), zap.Int("priority", priority))
		s.publish(saved, events.JobAdded, nil)
		select {
		case q.wake <- struct{}{}:
		default:
		}
	} else {
		s.logger.Debug("duplicate job absorbed", zap.String("queue", queue), zap.String("job", saved.ID), zap.String("key", key))
	}
	return saved, created, nil
}

func deriveKey(queue string, payload any) (string, error) {
	switch p := payload.(type) {
	case model.SyncJob:
		if queue != model.QueueSync {
			break
		}
		if p.IntegrationID == "" || !p.SyncType.IsValid() {
			return "", errs.Validation("sync job needs an integration id and a valid sync type")
		}
		return SyncKey(p), nil
	case model.WebhookJob:
		if queue != model.QueueWebhook {
			break
		}
		if p.IntegrationID == "" || p.Event.EventType == "" {
			return "", errs.Validation("webhook job needs an integration id and an event type")
		}
		return WebhookKey(p), nil
	case model.ExportJob:
		if queue != model.QueueExport {
			break
		}
		if p.IntegrationID == "" || !p.Kind.IsValid() {
			return "", errs.Validation("export job needs an integration id and a valid kind")
		}
		return ExportKey(p), nil
	default:
		return "", nil
	}
	return "", errs.Validation("payload %T does not belong on queue %s", payload, queue)
}

func (s *Service) publish(job model.Job, typ string, data map[string]any) {
	evt := events.Event{Type: typ, Queue: job.Queue, JobID: job.ID, Data: data, At: s.now().UTC()}
	s.broker.Publish(job.Queue, evt)
}

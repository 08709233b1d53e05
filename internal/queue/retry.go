package queue

import (
	"time"

	"syncgate/internal/model"
)

type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffFixed       Backoff = "fixed"
)

// RetryPolicy bounds how often a failed job runs again and how long it waits between runs.
type RetryPolicy struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  Backoff       `mapstructure:"backoff"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"maxDelay"`
}

// NextDelay is the wait after the given attempt (1-based) failed.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff == BackoffFixed {
		return p.Delay
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	d := p.Delay * time.Duration(1<<shift)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// QueueConfig configures one named queue.
type QueueConfig struct {
	Name        string        `mapstructure:"name"`
	Concurrency int           `mapstructure:"concurrency"`
	Retry       RetryPolicy   `mapstructure:"retry"`
	Lease       time.Duration `mapstructure:"lease"`
}

// DefaultQueues are the sync, webhook and export queues. Webhooks retry more often with
// a capped exponential backoff; exports retry once after a fixed pause.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: model.QueueSync, Concurrency: 5, Lease: 5 * time.Minute,
			Retry: RetryPolicy{Attempts: 3, Backoff: BackoffExponential, Delay: 5 * time.Second, MaxDelay: 10 * time.Minute}},
		{Name: model.QueueWebhook, Concurrency: 10, Lease: 2 * time.Minute,
			Retry: RetryPolicy{Attempts: 5, Backoff: BackoffExponential, Delay: 2 * time.Second, MaxDelay: 5 * time.Minute}},
		{Name: model.QueueExport, Concurrency: 2, Lease: 10 * time.Minute,
			Retry: RetryPolicy{Attempts: 2, Backoff: BackoffFixed, Delay: 30 * time.Second}},
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 1
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = BackoffExponential
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	return c
}

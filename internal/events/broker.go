// Package events fans job lifecycle and progress events out to live subscribers.
package events

import (
	"sync"
	"time"
)

// Event types published by the queue service.
const (
	JobAdded     = "job.added"
	JobProgress  = "job.progress"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
	JobRetrying  = "job.retrying"
)

type Event struct {
	Type  string         `json:"type"`
	Queue string         `json:"queue"`
	JobID string         `json:"jobId"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

// Broker delivers events per topic. Slow subscribers drop events rather than block publishers.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Memory is an in-process Broker.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Subscribe(string) chan Event         { return make(chan Event) }
func (Discard) Unsubscribe(_ string, ch chan Event) { close(ch) }
func (Discard) Publish(string, Event)               {}

// Package events carries job lifecycle notifications over NATS core pub/sub
// and turns remote-change notifications into scheduler ticks. Delivery is
// best-effort: nothing in the pipeline depends on an event arriving.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/metrics"
)

const (
	eventNamePrefix   = "ingest.events.job."
	eventSourcePrefix = "ingest.events.source."
	eventAllSubject   = "ingest.events.all"
	changeSubject     = "ingest.changes"
)

// token makes a path or file name safe as a NATS subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, strings.Trim(s, "/"))
}

func eventNameSubject(name string) string     { return eventNamePrefix + token(name) }
func eventSourceSubject(source string) string { return eventSourcePrefix + token(source) }

// Broker publishes job events and serves subscriptions over NATS.
type Broker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{nc: nc}
}

// PublishJobEvent fans one event out to the per-job, per-source and global
// subjects. Only the per-job publish failure is returned; the wider subjects
// are best-effort.
func (b *Broker) PublishJobEvent(ev *core.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(eventNameSubject(ev.Name), data); err != nil {
		slog.Error("failed to publish job event", "error", err, "job", ev.Key)
		return fmt.Errorf("publish event: %w", err)
	}
	if ev.Source != "" {
		if err := b.nc.Publish(eventSourceSubject(ev.Source), data); err != nil {
			slog.Error("failed to publish source event", "error", err, "source", ev.Source)
		}
	}
	if err := b.nc.Publish(eventAllSubject, data); err != nil {
		slog.Error("failed to publish global event", "error", err)
	}

	metrics.EventsPublished.Inc()
	return nil
}

// SubscribeName subscribes to events for jobs with the given file name.
func (b *Broker) SubscribeName(name string) (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(eventNameSubject(name))
}

// SubscribeSource subscribes to events for all jobs from one source directory.
func (b *Broker) SubscribeSource(source string) (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(eventSourceSubject(source))
}

// SubscribeAll subscribes to every job event.
func (b *Broker) SubscribeAll() (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(eventAllSubject)
}

func (b *Broker) subscribe(subject string) (<-chan *core.JobEvent, func(), error) {
	ch := make(chan *core.JobEvent, 64)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev core.JobEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		select {
		case ch <- &ev:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(ch)
	}
	return ch, unsubscribe, nil
}

// Close unsubscribes everything. The NATS connection belongs to the caller.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}

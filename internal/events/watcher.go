package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/etlwatch/ingestd/internal/metrics"
)

// Watcher listens for remote-change notifications and triggers a scheduler
// pass. Uploads tend to arrive in bursts, so notifications are coalesced for
// the batch delay and fire a single trigger per burst.
type Watcher struct {
	delay   time.Duration
	trigger func(context.Context) error

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewWatcher creates a running watcher. Notifications arrive via Notify or a
// NATS subscription attached with Subscribe.
func NewWatcher(delay time.Duration, trigger func(context.Context) error) *Watcher {
	w := &Watcher{
		delay:   delay,
		trigger: trigger,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Subscribe attaches the watcher to the remote-change subject.
func (w *Watcher) Subscribe(nc *nats.Conn) error {
	sub, err := nc.Subscribe(changeSubject, func(*nats.Msg) {
		w.Notify()
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", changeSubject, err)
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// Notify records one change notification. Never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-w.notify:
		}

		timer := time.NewTimer(w.delay)
	absorb:
		for {
			select {
			case <-w.notify:
			case <-timer.C:
				break absorb
			case <-w.stop:
				timer.Stop()
				return
			}
		}

		metrics.ChangeTriggers.Inc()
		if err := w.trigger(context.Background()); err != nil {
			slog.Warn("change-triggered scan failed", "error", err)
		}
	}
}

// Stop unsubscribes and stops the coalescing loop. Safe to call twice.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if w.sub != nil {
			_ = w.sub.Unsubscribe()
			w.sub = nil
		}
		w.mu.Unlock()
		close(w.stop)
	})
	w.wg.Wait()
}

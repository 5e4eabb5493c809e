// Package scheduler discovers ingestion jobs on the remote store and runs
// them with bounded parallelism. One tick never overlaps another; job
// execution happens in separate goroutine units so the tick loop never blocks
// on work itself beyond the batch wait.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/sync/errgroup"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/metrics"
)

// Runner executes one job. It may emit log lines on logs while running; the
// channel is owned by the scheduler and consumed until the runner returns.
type Runner interface {
	Run(ctx context.Context, job core.Descriptor, logs chan<- string) error
}

// Lister is the slice of the resource pool the scheduler needs for discovery.
type Lister interface {
	List(ctx context.Context, path string) ([]*ftp.Entry, error)
}

// Publisher receives job lifecycle events. May be nil.
type Publisher interface {
	PublishJobEvent(ev *core.JobEvent) error
}

// Config tunes the scheduler.
type Config struct {
	Sources        []string
	Extensions     []string // file suffixes eligible for ingestion; empty = all
	Interval       time.Duration
	ParallelLimit  int
	LargeThreshold int64
	MaxFailures    int
	SmallTimeout   time.Duration
	LargeTimeout   time.Duration
	BatchTimeout   time.Duration
	DrainPoll      time.Duration
	TrackLines     int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ParallelLimit <= 0 {
		c.ParallelLimit = 4
	}
	if c.LargeThreshold <= 0 {
		c.LargeThreshold = 20 << 20
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.SmallTimeout <= 0 {
		c.SmallTimeout = 2 * time.Minute
	}
	if c.LargeTimeout <= 0 {
		c.LargeTimeout = 10 * time.Minute
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 15 * time.Minute
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 250 * time.Millisecond
	}
	if c.TrackLines <= 0 {
		c.TrackLines = 100
	}
	return c
}

// Scheduler owns the per-source queues, the in-flight set and the failure
// counters. All map mutation happens under mu; ticks additionally serialize
// through the ticking flag so two ticks can never claim the same job.
type Scheduler struct {
	cfg    Config
	lister Lister
	runner Runner
	events Publisher

	ticking atomic.Bool

	mu          sync.Mutex
	queues      map[string][]core.Descriptor // pending, sorted largest-first
	inflight    map[string]core.Descriptor
	failures    map[string]int
	processed   map[string]bool
	phase       core.Phase
	progress    map[string][]string
	completed   int
	failed      int
	quarantined int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler. events may be nil.
func New(cfg Config, lister Lister, runner Runner, events Publisher) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		lister:    lister,
		runner:    runner,
		events:    events,
		queues:    make(map[string][]core.Descriptor),
		inflight:  make(map[string]core.Descriptor),
		failures:  make(map[string]int),
		processed: make(map[string]bool),
		progress:  make(map[string][]string),
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic tick loop.
func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Tick(context.Background()); err != nil {
				slog.Error("tick failed", "error", err)
			}
		}
	}
}

// Stop halts the periodic loop. Idempotent; running jobs are not cancelled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Tick runs one scheduling pass. Invoking Tick while one is already running
// is a no-op.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	if !s.ticking.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick panicked", "panic", r)
		}
		s.ticking.Store(false)
	}()

	metrics.TicksTotal.Inc()
	_, err = s.tick(ctx)
	return err
}

type tickResult struct {
	scanned    bool
	dispatched int
	pending    int
}

// tick is the core pass. Caller must hold the ticking flag.
func (s *Scheduler) tick(ctx context.Context) (tickResult, error) {
	var res tickResult

	s.mu.Lock()
	if s.largeInFlightLocked() {
		s.mu.Unlock()
		return res, nil
	}
	doScan := false
	if s.pendingLocked() == 0 && len(s.inflight) == 0 {
		s.phase = s.phase.Next()
		doScan = s.phase.Scans()
	}
	s.mu.Unlock()

	if doScan {
		res.scanned = true
		if err := s.scan(ctx); err != nil {
			return res, err
		}
	}

	s.mu.Lock()
	capacity := s.cfg.ParallelLimit - len(s.inflight)
	if capacity <= 0 {
		res.pending = s.pendingLocked()
		s.mu.Unlock()
		return res, nil
	}
	batch := s.pickBatchLocked(capacity)
	res.pending = s.pendingLocked()
	s.mu.Unlock()

	if len(batch) == 0 {
		return res, nil
	}
	res.dispatched = len(batch)
	s.dispatch(ctx, batch)
	return res, nil
}

// scan lists every source and rebuilds its queue, largest job first. Sources
// with jobs in flight keep their current queue so claimed work is not lost.
func (s *Scheduler) scan(ctx context.Context) error {
	metrics.ScansTotal.Inc()

	s.mu.Lock()
	var toScan []string
	for _, src := range s.cfg.Sources {
		if s.sourceInFlightLocked(src) {
			continue
		}
		toScan = append(toScan, src)
	}
	s.mu.Unlock()

	listings := make([][]*ftp.Entry, len(toScan))
	errs := make([]error, len(toScan))

	var g errgroup.Group
	for i, src := range toScan {
		g.Go(func() error {
			entries, err := s.lister.List(ctx, src)
			if err != nil {
				errs[i] = fmt.Errorf("scan %s: %w", src, err)
				return nil
			}
			listings[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	for i, src := range toScan {
		if errs[i] != nil {
			continue
		}
		s.queues[src] = s.buildQueueLocked(src, listings[i])
		metrics.QueueDepth.WithLabelValues(src).Set(float64(len(s.queues[src])))
	}
	s.mu.Unlock()

	var firstErr error
	for _, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				slog.Warn("source scan failed", "error", err)
			}
		}
	}
	return firstErr
}

func (s *Scheduler) buildQueueLocked(src string, entries []*ftp.Entry) []core.Descriptor {
	var queue []core.Descriptor
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || !s.eligible(e.Name) {
			continue
		}
		d := core.Descriptor{Source: src, Name: e.Name, Size: int64(e.Size)}
		if s.processed[d.Key()] || s.inflight[d.Key()].Name != "" {
			continue
		}
		queue = append(queue, d)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Size != queue[j].Size {
			return queue[i].Size > queue[j].Size
		}
		return queue[i].Name < queue[j].Name
	})
	return queue
}

func (s *Scheduler) eligible(name string) bool {
	if len(s.cfg.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range s.cfg.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// pickBatchLocked selects up to capacity jobs. A large job at any queue head
// is selected alone; while it runs nothing else starts. Otherwise small head
// jobs are collected round-robin across sources.
func (s *Scheduler) pickBatchLocked(capacity int) []core.Descriptor {
	for _, src := range s.cfg.Sources {
		q := s.queues[src]
		if len(q) > 0 && q[0].Large(s.cfg.LargeThreshold) {
			job := q[0]
			s.queues[src] = q[1:]
			s.inflight[job.Key()] = job
			return []core.Descriptor{job}
		}
	}

	var batch []core.Descriptor
	for len(batch) < capacity {
		progressed := false
		for _, src := range s.cfg.Sources {
			if len(batch) >= capacity {
				break
			}
			q := s.queues[src]
			if len(q) == 0 || q[0].Large(s.cfg.LargeThreshold) {
				continue
			}
			job := q[0]
			s.queues[src] = q[1:]
			s.inflight[job.Key()] = job
			batch = append(batch, job)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return batch
}

func (s *Scheduler) largeInFlightLocked() bool {
	for _, d := range s.inflight {
		if d.Large(s.cfg.LargeThreshold) {
			return true
		}
	}
	return false
}

func (s *Scheduler) sourceInFlightLocked(src string) bool {
	for _, d := range s.inflight {
		if d.Source == src {
			return true
		}
	}
	return false
}

func (s *Scheduler) pendingLocked() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Reset clears all scheduler state: queues, in-flight set, failure counters,
// processed set and phase.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.queues = make(map[string][]core.Descriptor)
	s.inflight = make(map[string]core.Descriptor)
	s.failures = make(map[string]int)
	s.processed = make(map[string]bool)
	s.progress = make(map[string][]string)
	s.phase = core.PhaseIdle
	s.completed = 0
	s.failed = 0
	s.quarantined = 0
	s.mu.Unlock()
}

// Drain resets all state and drives ticks back-to-back until two consecutive
// full scans find nothing pending. Distinct from steady-state periodic
// ticking; used by the manual full re-run trigger.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.Reset()

	emptyScans := 0
	for emptyScans < 2 {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !s.ticking.CompareAndSwap(false, true) {
			// A periodic tick is racing us; let it finish.
			if err := sleepCtx(ctx, s.cfg.DrainPoll); err != nil {
				return err
			}
			continue
		}
		res, err := s.tick(ctx)
		s.ticking.Store(false)
		if err != nil {
			return err
		}

		if res.scanned {
			if res.pending == 0 && res.dispatched == 0 && s.inflightCount() == 0 {
				emptyScans++
			} else {
				emptyScans = 0
			}
		}

		for s.inflightCount() > 0 {
			if err := sleepCtx(ctx, s.cfg.DrainPoll); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

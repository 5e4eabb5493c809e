// Package ftppool maintains a bounded set of live FTP connections to one
// remote endpoint and leases them out to concurrent operations. Broken
// connections are repaired in place; repeated refusals open a global breaker
// that throttles all reconnect attempts.
package ftppool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/metrics"
)

// ErrPoolClosed is returned for any lease or operation after Shutdown.
var ErrPoolClosed = errors.New("ftppool: pool is closed")

// entry wraps one live connection plus its lease and health state. An entry
// marked busy is owned by exactly one goroutine; only the owner touches conn
// and healthy until release.
type entry struct {
	conn     Conn
	busy     bool
	healthy  bool
	lastUsed time.Time
}

// Pool owns the connection entries, the reuse order and the breaker state.
type Pool struct {
	cfg  Config
	dial DialFunc

	mu        sync.Mutex
	entries   []*entry
	fails     int       // consecutive refusals
	openUntil time.Time // breaker open deadline
	lastDial  time.Time // process-wide handshake pacing
	closed    bool

	avail chan struct{} // signalled on release, wakes Acquire waiters
	done  chan struct{}
}

// New creates a pool that dials the configured FTP endpoint.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return NewWithDialer(cfg, FTPDialer(cfg))
}

// NewWithDialer creates a pool with a custom dialer. Used by tests.
func NewWithDialer(cfg Config, dial DialFunc) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:   cfg,
		dial:  dial,
		avail: make(chan struct{}, cfg.MaxConn),
		done:  make(chan struct{}),
	}
}

// Lease is one claimed connection entry. Release returns it to the pool and
// is safe to call more than once.
type Lease struct {
	p    *Pool
	e    *entry
	once sync.Once
}

// Conn returns the live connection. Valid until Release.
func (l *Lease) Conn() Conn { return l.e.conn }

// Release returns the entry to the pool.
func (l *Lease) Release() {
	l.once.Do(func() { l.p.release(l.e) })
}

// Acquire returns a healthy, free entry marked busy. Below capacity a new
// entry is created when no free one exists; at capacity Acquire blocks until
// a lease is released. Connectivity is guaranteed: unhealthy entries are
// repaired here, retrying internally, or Acquire fails with a connect_error.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	e, err := p.claim(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.ensure(ctx, e); err != nil {
		p.release(e)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		if Refusal(err) {
			return nil, core.NewRefusalError(
				fmt.Sprintf("connect to %s:%d refused after %d attempts", p.cfg.Host, p.cfg.Port, p.cfg.LocalRetries), err)
		}
		return nil, core.NewConnectError(
			fmt.Sprintf("connect to %s:%d failed after %d attempts", p.cfg.Host, p.cfg.Port, p.cfg.LocalRetries), err)
	}
	return &Lease{p: p, e: e}, nil
}

// claim picks or creates an entry and marks it busy. Free entries idle past
// the idle timeout are closed first so a stale connection is never handed out.
func (p *Pool) claim(ctx context.Context) (*entry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.reclaimIdleLocked(time.Now())
		if e := p.freeLocked(); e != nil {
			e.busy = true
			p.updateGaugesLocked()
			p.mu.Unlock()
			return e, nil
		}
		if len(p.entries) < p.cfg.MaxConn {
			e := &entry{busy: true}
			p.entries = append(p.entries, e)
			p.updateGaugesLocked()
			p.mu.Unlock()
			return e, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrPoolClosed
		case <-p.avail:
			// Recheck; another waiter may have claimed the freed entry.
		}
	}
}

// freeLocked returns the least-recently-used free entry, if any. Unhealthy
// free entries are eligible; ensure repairs them on lease.
func (p *Pool) freeLocked() *entry {
	var pick *entry
	for _, e := range p.entries {
		if e.busy {
			continue
		}
		if pick == nil || e.lastUsed.Before(pick.lastUsed) {
			pick = e
		}
	}
	return pick
}

func (p *Pool) reclaimIdleLocked(now time.Time) {
	for _, e := range p.entries {
		if e.busy || e.conn == nil {
			continue
		}
		if now.Sub(e.lastUsed) > p.cfg.IdleTimeout {
			_ = e.conn.Quit()
			e.conn = nil
			e.healthy = false
			metrics.IdleReclaims.Inc()
		}
	}
}

// ensure repairs the entry's connection if needed. The caller must own the
// entry (busy). Up to LocalRetries handshakes with linear backoff; each
// attempt waits out the breaker and the process-wide handshake gap first.
func (p *Pool) ensure(ctx context.Context, e *entry) error {
	if e.conn != nil && e.healthy {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.LocalRetries; attempt++ {
		if err := p.waitTurn(ctx); err != nil {
			return err
		}

		conn, err := p.dial()
		if err == nil {
			if e.conn != nil {
				_ = e.conn.Quit()
			}
			e.conn = conn
			e.healthy = true
			p.mu.Lock()
			p.fails = 0
			p.openUntil = time.Time{}
			p.mu.Unlock()
			metrics.Handshakes.Inc()
			metrics.BreakerOpen.Set(0)
			return nil
		}
		lastErr = err

		if Refusal(err) {
			p.mu.Lock()
			p.fails++
			delay := core.BreakerDelay(p.cfg.BreakerBase, p.fails, p.cfg.BreakerCap)
			p.openUntil = time.Now().Add(delay)
			fails := p.fails
			p.mu.Unlock()
			metrics.BreakerTrips.Inc()
			metrics.BreakerOpen.Set(1)
			slog.Warn("endpoint refused connection, breaker open",
				"fails", fails, "delay", delay.String())
		} else {
			slog.Warn("handshake failed", "attempt", attempt, "error", err)
		}

		if err := sleepCtx(ctx, core.LinearBackoff(p.cfg.RetryBackoff, attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// waitTurn blocks until both the breaker and the handshake gap allow a dial,
// then reserves the dial slot by stamping lastDial.
func (p *Pool) waitTurn(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		now := time.Now()
		wait := p.openUntil.Sub(now)
		if gap := p.cfg.ConnectGap - now.Sub(p.lastDial); gap > wait {
			wait = gap
		}
		if wait <= 0 {
			p.lastDial = now
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.busy = false
	e.lastUsed = time.Now()
	if p.closed {
		if e.conn != nil {
			_ = e.conn.Quit()
			e.conn = nil
		}
		e.healthy = false
		for i, held := range p.entries {
			if held == e {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
				break
			}
		}
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	select {
	case p.avail <- struct{}{}:
	default:
	}
}

// invalidate drops the entry's connection. The next lease (or retry) repairs
// it in place.
func (p *Pool) invalidate(e *entry) {
	if e.conn != nil {
		_ = e.conn.Quit()
		e.conn = nil
	}
	e.healthy = false
}

// Execute leases an entry and runs op against its connection, retrying up to
// OpRetries more times on transient faults. Each retry invalidates and
// re-establishes the connection first. The lease is released exactly once
// regardless of outcome.
func (p *Pool) Execute(ctx context.Context, op func(Conn) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	e := lease.e
	var lastErr error
	for attempt := 0; attempt <= p.cfg.OpRetries; attempt++ {
		if attempt > 0 {
			if err := p.ensure(ctx, e); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPoolClosed) {
					return err
				}
				if Refusal(err) {
					return core.NewRefusalError("reconnect during retry refused", err)
				}
				return core.NewConnectError("reconnect during retry failed", err)
			}
		}

		err := op(e.conn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Transient(err) {
			return err
		}
		p.invalidate(e)
		metrics.TransientFaults.Inc()
		slog.Warn("transient fault, connection invalidated",
			"attempt", attempt+1, "error", err)
	}
	return core.NewTransientIOError(
		fmt.Sprintf("operation failed after %d attempts", p.cfg.OpRetries+1), lastErr)
}

// List returns the directory listing of path.
func (p *Pool) List(ctx context.Context, path string) ([]*ftp.Entry, error) {
	var entries []*ftp.Entry
	err := p.Execute(ctx, func(c Conn) error {
		var err error
		entries, err = c.List(path)
		return err
	})
	return entries, err
}

// Get downloads path into memory. The buffer is reset on every retry so a
// half-finished transfer never leaks into the result.
func (p *Pool) Get(ctx context.Context, path string) ([]byte, error) {
	var buf bytes.Buffer
	err := p.Execute(ctx, func(c Conn) error {
		buf.Reset()
		r, err := c.Retr(path)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = buf.ReadFrom(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Put uploads data to path.
func (p *Pool) Put(ctx context.Context, path string, data []byte) error {
	return p.Execute(ctx, func(c Conn) error {
		return c.Stor(path, bytes.NewReader(data))
	})
}

// Delete removes path.
func (p *Pool) Delete(ctx context.Context, path string) error {
	return p.Execute(ctx, func(c Conn) error { return c.Delete(path) })
}

// MakeDir creates a remote directory.
func (p *Pool) MakeDir(ctx context.Context, path string) error {
	return p.Execute(ctx, func(c Conn) error { return c.MakeDir(path) })
}

// Rename moves a remote file.
func (p *Pool) Rename(ctx context.Context, from, to string) error {
	return p.Execute(ctx, func(c Conn) error { return c.Rename(from, to) })
}

// Stat returns the size of a remote file.
func (p *Pool) Stat(ctx context.Context, path string) (int64, error) {
	var size int64
	err := p.Execute(ctx, func(c Conn) error {
		var err error
		size, err = c.FileSize(path)
		return err
	})
	return size, err
}

// WithConn runs fn with a leased connection under the usual
// acquire/retry/release contract. Escape hatch for operations the typed
// surface does not cover.
func (p *Pool) WithConn(ctx context.Context, fn func(Conn) error) error {
	return p.Execute(ctx, fn)
}

// Shutdown closes every connection and clears the pool. Best-effort under
// concurrent leases: outstanding lease holders keep their connection until
// their operation finishes.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	var held []*entry
	for _, e := range p.entries {
		if e.busy {
			// Owned by a live lease; release closes it on return.
			held = append(held, e)
			continue
		}
		if e.conn != nil {
			_ = e.conn.Quit()
			e.conn = nil
		}
		e.healthy = false
	}
	p.entries = held
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Entries      int    `json:"entries"`
	Busy         int    `json:"busy"`
	Unhealthy    int    `json:"unhealthy"`
	BreakerFails int    `json:"breaker_fails"`
	BreakerOpen  bool   `json:"breaker_open"`
	OpenUntil    string `json:"open_until,omitempty"`
}

// Stats reports pool occupancy and breaker state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Entries: len(p.entries), BreakerFails: p.fails}
	for _, e := range p.entries {
		if e.busy {
			s.Busy++
		}
		if !e.healthy {
			s.Unhealthy++
		}
	}
	if now := time.Now(); p.openUntil.After(now) {
		s.BreakerOpen = true
		s.OpenUntil = p.openUntil.Format(time.RFC3339)
	}
	return s
}

func (p *Pool) updateGaugesLocked() {
	busy := 0
	for _, e := range p.entries {
		if e.busy {
			busy++
		}
	}
	metrics.PoolEntries.Set(float64(len(p.entries)))
	metrics.PoolBusy.Set(float64(busy))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

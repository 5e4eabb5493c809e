package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/metrics"
)

// dispatch starts one execution unit per job and waits for the batch, bounded
// by the batch timeout. Giving up the wait returns control to the tick loop
// without cancelling still-running units.
func (s *Scheduler) dispatch(ctx context.Context, batch []core.Descriptor) {
	done := make(chan string, len(batch))
	for _, job := range batch {
		metrics.JobsDispatched.Inc()
		metrics.InFlight.Inc()
		go s.runJob(job, done)
	}

	timer := time.NewTimer(s.cfg.BatchTimeout)
	defer timer.Stop()
	for i := 0; i < len(batch); i++ {
		select {
		case <-done:
		case <-timer.C:
			slog.Warn("batch timeout, abandoning wait",
				"outstanding", len(batch)-i, "timeout", s.cfg.BatchTimeout.String())
			return
		case <-ctx.Done():
			return
		}
	}
}

// runJob is one isolated execution unit. The per-job timeout aborts waiting
// for the runner, not the runner itself: a unit that ignores its context
// keeps running detached until it returns on its own.
func (s *Scheduler) runJob(job core.Descriptor, done chan<- string) {
	key := job.Key()
	timeout := s.cfg.SmallTimeout
	if job.Large(s.cfg.LargeThreshold) {
		timeout = s.cfg.LargeTimeout
	}

	slog.Info("job started", "job", key, "size", job.Size)
	s.publish(core.EventJobStarted, job, "", nil)

	logs := make(chan string, 64)
	go func() {
		for line := range logs {
			s.appendProgress(key, line)
			slog.Info("job progress", "job", key, "line", line)
			s.publish(core.EventJobLog, job, line, nil)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer close(logs)
		defer func() {
			if r := recover(); r != nil {
				result <- core.NewJobFailureError(key, fmt.Errorf("panic: %v", r))
			}
		}()
		result <- s.runner.Run(ctx, job, logs)
	}()

	var err error
	select {
	case err = <-result:
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.NewJobTimeoutError(key, timeout.String())
		}
	case <-ctx.Done():
		err = core.NewJobTimeoutError(key, timeout.String())
	}

	s.record(job, err)
	done <- key
}

// record applies one job outcome: success clears the failure counter and
// marks the job processed; failure increments the counter, quarantining the
// job once it reaches the failure budget.
func (s *Scheduler) record(job core.Descriptor, err error) {
	key := job.Key()

	s.mu.Lock()
	delete(s.inflight, key)
	metrics.InFlight.Dec()

	if err == nil {
		delete(s.failures, key)
		s.processed[key] = true
		s.completed++
		s.mu.Unlock()

		slog.Info("job completed", "job", key)
		s.publish(core.EventJobCompleted, job, "", nil)
		metrics.JobsCompleted.Inc()
		return
	}

	n := s.failures[key] + 1
	s.failures[key] = n
	s.failed++
	quarantine := n >= s.cfg.MaxFailures
	if quarantine {
		// Stop retrying: mark processed without success.
		s.processed[key] = true
		delete(s.failures, key)
		s.quarantined++
	}
	s.mu.Unlock()

	metrics.JobsFailed.WithLabelValues(core.CodeOf(err)).Inc()
	if quarantine {
		qerr := core.NewQuarantineError(key, n)
		slog.Warn(qerr.Message, "job", key, "last_error", err)
		s.publish(core.EventJobQuarantined, job, "", err)
		metrics.JobsQuarantined.Inc()
		return
	}
	slog.Error("job failed", "job", key, "attempt", n, "error", err)
	s.publish(core.EventJobFailed, job, "", err)
}

func (s *Scheduler) appendProgress(key, line string) {
	s.mu.Lock()
	lines := append(s.progress[key], line)
	if len(lines) > s.cfg.TrackLines {
		lines = lines[len(lines)-s.cfg.TrackLines:]
	}
	s.progress[key] = lines
	s.mu.Unlock()
}

func (s *Scheduler) publish(evType string, job core.Descriptor, line string, err error) {
	if s.events == nil {
		return
	}
	ev := &core.JobEvent{
		Key:    job.Key(),
		Source: job.Source,
		Name:   job.Name,
		Type:   evType,
		Line:   line,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := s.events.PublishJobEvent(ev); perr != nil {
		slog.Debug("event publish failed", "type", evType, "error", perr)
	}
}

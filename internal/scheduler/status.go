package scheduler

import (
	"sort"
	"strings"
)

// Status is a point-in-time snapshot for the control API.
type Status struct {
	Phase       string         `json:"phase"`
	Queues      map[string]int `json:"queues"`
	Pending     int            `json:"pending"`
	InFlight    []string       `json:"in_flight"`
	Capacity    int            `json:"capacity"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Quarantined int            `json:"quarantined"`
}

// Status reports queue depths, in-flight jobs, remaining capacity and phase.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Phase:       s.phase.String(),
		Queues:      make(map[string]int, len(s.queues)),
		Capacity:    s.cfg.ParallelLimit - len(s.inflight),
		Completed:   s.completed,
		Failed:      s.failed,
		Quarantined: s.quarantined,
	}
	for src, q := range s.queues {
		st.Queues[src] = len(q)
		st.Pending += len(q)
	}
	for key := range s.inflight {
		st.InFlight = append(st.InFlight, key)
	}
	sort.Strings(st.InFlight)
	return st
}

// Track returns the recorded progress lines for a job, most recent last.
// name may be a full source:name key or a bare file name; with a bare name
// the lines of every source holding that file are returned grouped by key,
// never interleaved.
func (s *Scheduler) Track(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lines, ok := s.progress[name]; ok {
		out := make([]string, len(lines))
		copy(out, lines)
		return out
	}

	var keys []string
	for key := range s.progress {
		if strings.HasSuffix(key, ":"+name) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		out = append(out, s.progress[key]...)
	}
	return out
}

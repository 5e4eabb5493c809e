package core

// Version is reported on the control API and in metrics.
const Version = "0.3.1"

// Descriptor identifies one discovered remote file awaiting ingestion.
// Descriptors are produced by discovery scans and consumed by batch picking;
// they are not persisted across restarts.
type Descriptor struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
}

// Key returns the scheduler-wide identity of the job.
func (d Descriptor) Key() string {
	return d.Source + ":" + d.Name
}

// Large reports whether the job is at or above the exclusive-scheduling
// threshold.
func (d Descriptor) Large(threshold int64) bool {
	return d.Size >= threshold
}

// JobEvent is published to the event broker on job lifecycle transitions and
// for streamed log lines.
type JobEvent struct {
	Key    string `json:"key"`
	Source string `json:"source,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type"`
	Line   string `json:"line,omitempty"`
	Error  string `json:"error,omitempty"`
	Time   string `json:"time"`
}

// Job event types.
const (
	EventJobStarted     = "job.started"
	EventJobLog         = "job.log"
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
	EventJobQuarantined = "job.quarantined"
)

// Package ingest executes a single discovered job: it pulls the remote file
// through the connection pool into a local spool directory. Parsing and
// downstream processing consume the spool independently.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/etlwatch/ingestd/internal/core"
)

// Remote is the slice of the pool surface a download needs.
type Remote interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Rename(ctx context.Context, from, to string) error
}

type Runner struct {
	remote     Remote
	spoolDir   string
	archiveDir string // remote directory; empty disables the post-download move
}

func NewRunner(remote Remote, spoolDir, archiveDir string) *Runner {
	return &Runner{remote: remote, spoolDir: spoolDir, archiveDir: archiveDir}
}

// Run downloads one file. The write is staged through a .part file so a
// half-written spool entry is never visible under the final name.
func (r *Runner) Run(ctx context.Context, job core.Descriptor, logs chan<- string) error {
	src := path.Join(job.Source, job.Name)
	logs <- fmt.Sprintf("fetching %s (%d bytes)", src, job.Size)

	data, err := r.remote.Get(ctx, src)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(r.spoolDir, 0o755); err != nil {
		return core.NewJobFailureError(job.Key(), err)
	}
	dst := filepath.Join(r.spoolDir, job.Name)
	part := dst + ".part"
	if err := os.WriteFile(part, data, 0o644); err != nil {
		return core.NewJobFailureError(job.Key(), err)
	}
	if err := os.Rename(part, dst); err != nil {
		return core.NewJobFailureError(job.Key(), err)
	}
	logs <- fmt.Sprintf("spooled %d bytes to %s", len(data), dst)

	if r.archiveDir != "" {
		moved := path.Join(r.archiveDir, job.Name)
		if err := r.remote.Rename(ctx, src, moved); err != nil {
			return err
		}
		logs <- fmt.Sprintf("archived remote file to %s", moved)
	}
	return nil
}

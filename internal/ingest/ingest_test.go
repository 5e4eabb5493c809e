package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/etlwatch/ingestd/internal/core"
)

type fakeRemote struct {
	files   map[string][]byte
	getErr  error
	renames [][2]string
}

func (f *fakeRemote) Get(ctx context.Context, path string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("550 no such file")
	}
	return data, nil
}

func (f *fakeRemote) Rename(ctx context.Context, from, to string) error {
	f.renames = append(f.renames, [2]string{from, to})
	return nil
}

func drainLogs() (chan string, func() []string) {
	logs := make(chan string, 64)
	return logs, func() []string {
		close(logs)
		var lines []string
		for line := range logs {
			lines = append(lines, line)
		}
		return lines
	}
}

func TestRun_SpoolsFile(t *testing.T) {
	remote := &fakeRemote{files: map[string][]byte{
		"/reports/daily.xlsx": []byte("cell data"),
	}}
	dir := t.TempDir()
	r := NewRunner(remote, dir, "")

	logs, collect := drainLogs()
	job := core.Descriptor{Source: "/reports", Name: "daily.xlsx", Size: 9}
	if err := r.Run(context.Background(), job, logs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "daily.xlsx"))
	if err != nil {
		t.Fatalf("spooled file: %v", err)
	}
	if string(got) != "cell data" {
		t.Errorf("spooled content = %q, want %q", got, "cell data")
	}
	if _, err := os.Stat(filepath.Join(dir, "daily.xlsx.part")); !os.IsNotExist(err) {
		t.Errorf("staging file left behind: %v", err)
	}
	if lines := collect(); len(lines) != 2 {
		t.Errorf("log lines = %v, want fetch and spool progress", lines)
	}
	if len(remote.renames) != 0 {
		t.Errorf("rename without archive dir: %v", remote.renames)
	}
}

func TestRun_ArchivesRemoteFile(t *testing.T) {
	remote := &fakeRemote{files: map[string][]byte{
		"/reports/daily.xlsx": []byte("x"),
	}}
	r := NewRunner(remote, t.TempDir(), "/archive")

	logs, _ := drainLogs()
	job := core.Descriptor{Source: "/reports", Name: "daily.xlsx", Size: 1}
	if err := r.Run(context.Background(), job, logs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := [2]string{"/reports/daily.xlsx", "/archive/daily.xlsx"}
	if len(remote.renames) != 1 || remote.renames[0] != want {
		t.Errorf("renames = %v, want %v", remote.renames, want)
	}
}

func TestRun_PropagatesFetchError(t *testing.T) {
	remote := &fakeRemote{getErr: core.NewTransientIOError("retries exhausted", errors.New("connection reset"))}
	r := NewRunner(remote, t.TempDir(), "")

	logs, _ := drainLogs()
	job := core.Descriptor{Source: "/reports", Name: "daily.xlsx", Size: 1}
	err := r.Run(context.Background(), job, logs)
	if core.CodeOf(err) != "transient_io" {
		t.Errorf("CodeOf(err) = %q, want transient_io (pool errors pass through)", core.CodeOf(err))
	}
}

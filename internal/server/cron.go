package server

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// StartCron schedules periodic full re-runs, e.g. a nightly sweep that
// re-ingests everything regardless of the processed set. The returned cron
// is already running; callers stop it on shutdown.
func StartCron(spec string, run func()) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		slog.Info("scheduled full run starting", "cron", spec)
		run()
	}); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

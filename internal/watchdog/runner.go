package watchdog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner executes the sweep on an in-process cron schedule, alongside the
// authenticated HTTP trigger for externally scheduled invocations.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRunner schedules w.Sweep on the given cron spec (e.g. "@every 1m").
func NewRunner(w *Watchdog, spec string) (*Runner, error) {
	c := cron.New()
	logger := slog.Default()

	_, err := c.AddFunc(spec, func() {
		res, err := w.Sweep(context.Background())
		if err != nil {
			logger.Error("scheduled watchdog sweep failed", "error", err,
				"retriggered", res.Retriggered, "failed", res.Failed)
			return
		}
		if res.Retriggered > 0 || res.Failed > 0 {
			logger.Info("watchdog sweep finished",
				"retriggered", res.Retriggered, "failed", res.Failed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", spec, err)
	}

	return &Runner{cron: c, logger: logger}, nil
}

// Start begins running the schedule in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

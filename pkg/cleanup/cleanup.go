// Package cleanup runs the retention loop that prunes old traces and query
// history on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/trace"
)

// Runner owns the background retention loop.
type Runner struct {
	store    *trace.Store
	settings config.RetentionSettings
}

// NewRunner creates a retention runner.
func NewRunner(store *trace.Store, settings config.RetentionSettings) *Runner {
	return &Runner{store: store, settings: settings}
}

// Start launches the loop; it stops when ctx is cancelled. One pass runs
// immediately so a long-stopped instance catches up on startup.
func (r *Runner) Start(ctx context.Context) {
	if r.settings.TraceRetentionDays <= 0 {
		slog.Info("Trace retention disabled")
		return
	}
	interval := r.settings.CleanupInterval
	if interval <= 0 {
		interval = 12 * time.Hour
	}

	go func() {
		r.runOnce(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()
}

func (r *Runner) runOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -r.settings.TraceRetentionDays)

	traces, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Trace retention pass failed", "error", err)
		return
	}
	history, err := r.store.DeleteHistoryOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("History retention pass failed", "error", err)
		return
	}
	if traces > 0 || history > 0 {
		slog.Info("Retention pass complete",
			"traces_deleted", traces, "history_deleted", history,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}

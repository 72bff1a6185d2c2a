package session

import (
	"context"
	"time"

	"github.com/arcanefly/workforce/core/telemetry"
)

// Sweeper periodically expires sessions and cancels their outstanding
// tasks (spec §4.9: "a background sweeper transitions sessions past expiry
// to inactive and cancels their tasks").
type Sweeper struct {
	store    Store
	interval time.Duration
	log      telemetry.Logger
}

// NewSweeper constructs a Sweeper over store, running every interval.
func NewSweeper(store Store, interval time.Duration, log telemetry.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run blocks, sweeping at Sweeper's interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweepOnce(ctx)
		}
	}
}

func (sw *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := sw.store.ExpireSessions(ctx, time.Now())
	if err != nil {
		sw.log.Warn(ctx, "session: sweep failed", "error", err.Error())
		return
	}
	for _, sessionID := range expired {
		tasks, err := sw.store.ListTaskExecutionsBySession(ctx, sessionID)
		if err != nil {
			continue
		}
		for _, t := range tasks {
			if t.Status == TaskExecPending || t.Status == TaskExecRunning {
				_ = sw.store.CancelTaskExecution(ctx, t.ID, "session expired")
			}
		}
		sw.log.Info(ctx, "session: expired", "session_id", sessionID, "cancelled_tasks", len(tasks))
	}
}

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medihan/internal/metrics"
)

const (
	DefaultReaperInterval  = 1 * time.Hour
	DefaultRetentionWindow = 24 * time.Hour
	DefaultReaperBatchSize = 100
)

// PendingPreview describes what a sweep would delete right now.
type PendingPreview struct {
	PendingToClean int64     `json:"pendingToClean"`
	TotalPending   int64     `json:"totalPending"`
	Cutoff         time.Time `json:"cutoff"`
}

// Reaper deletes PENDING accounts whose registration was abandoned. The
// store's delete predicate is restricted to status PENDING, so an ACTIVE
// account cannot be removed whatever the cutoff.
type Reaper struct {
	store     Store
	metrics   *metrics.Metrics
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func NewReaper(store Store, m *metrics.Metrics, interval, retention time.Duration, batchSize int) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	if batchSize <= 0 {
		batchSize = DefaultReaperBatchSize
	}
	return &Reaper{
		store:     store,
		metrics:   m,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

func (r *Reaper) Retention() time.Duration { return r.retention }

func (r *Reaper) Start(ctx context.Context) {
	slog.Info("starting pending account reaper", "component", "reaper", "interval", r.interval, "retention", r.retention)

	r.runSweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping pending account reaper", "component", "reaper")
			return
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

func (r *Reaper) runSweep(ctx context.Context) {
	deleted, err := r.Sweep(ctx, r.retention)
	if err != nil {
		slog.Error("error sweeping pending accounts", "component", "reaper", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("deleted abandoned pending accounts", "component", "reaper", "count", deleted)
	}
}

// Sweep deletes PENDING accounts older than retention, one transaction per
// batch, and returns how many were removed. A non-positive retention uses
// DefaultRetentionWindow.
func (r *Reaper) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	cutoff := r.now().UTC().Add(-retention)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			r.metrics.ReaperRuns.WithLabelValues("cancelled").Inc()
			return total, err
		}

		deleted, err := r.store.DeletePendingBefore(ctx, cutoff, r.batchSize)
		if err != nil {
			r.metrics.ReaperRuns.WithLabelValues("error").Inc()
			return total, fmt.Errorf("deleting pending batch: %w", err)
		}
		total += deleted
		r.metrics.ReaperDeleted.Add(float64(deleted))

		if deleted < int64(r.batchSize) {
			break
		}
	}

	if _, pending, err := r.store.CountPending(ctx, cutoff); err == nil {
		r.metrics.PendingAccounts.Set(float64(pending))
	}

	r.metrics.ReaperRuns.WithLabelValues("ok").Inc()
	return total, nil
}

func (r *Reaper) Preview(ctx context.Context) (*PendingPreview, error) {
	cutoff := r.now().UTC().Add(-r.retention)
	stale, total, err := r.store.CountPending(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("counting pending accounts: %w", err)
	}
	return &PendingPreview{
		PendingToClean: stale,
		TotalPending:   total,
		Cutoff:         cutoff,
	}, nil
}

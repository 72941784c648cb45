package cart

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = 10 * time.Second
	DefaultSweepBatch    = 100
)

// Sweeper purges carts whose schedule entries are due. Ticks run on a single
// goroutine, so a slow tick delays the next one instead of overlapping it.
type Sweeper struct {
	Service  *Service
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
}

// Run ticks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	w.log().Info("cart sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.log().Info("cart sweeper stopped")
			return nil
		case <-t.C:
			if _, err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log().Warn("cart sweep failed", zap.Error(err))
			}
		}
	}
}

// Tick purges every due cart once. A user whose purge fails keeps its
// schedule entry and is retried on the next tick; the others still go.
// Failed entries stay at the head of the index, so each page is widened by
// the failures so far and users already tried in this tick are skipped.
func (w *Sweeper) Tick(ctx context.Context) (purged int, err error) {
	start := time.Now()
	failed := 0
	defer func() { w.Service.Metrics.observeSweep(start, purged, failed) }()

	now := w.Service.now()
	tried := make(map[string]struct{})
	for {
		limit := w.batch() + failed

		var due []DueEntry
		err = w.Service.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			due, err = w.Service.Schedule.PopDue(ctx, now, limit)
			return err
		})
		if err != nil {
			return purged, storeErr("pop due", err)
		}

		fresh := 0
		for _, e := range due {
			if _, ok := tried[e.UserID]; ok {
				continue
			}
			tried[e.UserID] = struct{}{}
			fresh++

			if ctx.Err() != nil {
				return purged, ctx.Err()
			}
			if err := w.Service.Purge(ctx, e); err != nil {
				failed++
				w.log().Warn("purge abandoned cart failed",
					zap.String("user_id", e.UserID),
					zap.Time("due", e.Due),
					zap.Error(err),
				)
				continue
			}
			purged++
		}
		if fresh == 0 || len(due) < limit {
			break
		}
	}

	if purged > 0 || failed > 0 {
		w.log().Info("cart sweep finished",
			zap.Int("purged", purged),
			zap.Int("failed", failed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return purged, nil
}

func (w *Sweeper) batch() int {
	if w.Batch > 0 {
		return w.Batch
	}
	return DefaultSweepBatch
}

func (w *Sweeper) log() *zap.Logger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop()
}

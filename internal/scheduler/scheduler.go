// Package scheduler implements C8: owns every independent periodic loop the
// control plane runs, starting each as a goroutine in an errgroup so a
// shutdown signal stops all of them and waits for in-flight work to finish
// cleanly (spec §5's "graceful shutdown signal must cause timers to stop ...
// before exit"). The teacher's `HealthChecker` (pkg/manager/manager.go) is a
// single infinite for-loop with `time.Sleep`; this generalizes that shape to
// several independent, cancellation-aware loops.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/archway-network/lambo/internal/coordinator"
	"github.com/archway-network/lambo/internal/reconcile"
)

// HotStoreCleaner is the subset of internal/store's Store used by the
// hot-store cleanup loop.
type HotStoreCleaner interface {
	CleanupExpiredMetrics(ctx context.Context) int
}

// ColdStorePruner is the subset of internal/coldstore's ColdStore used by the
// nightly cold-store sweep.
type ColdStorePruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Intervals bundles every loop's period, mirroring internal/config's
// IntervalsConfig.
type Intervals struct {
	WeightCycle    time.Duration
	Heartbeat      time.Duration
	DriftReconcile time.Duration
	HotCleanup     time.Duration
	RetentionDays  int
}

// Scheduler owns five independent periodic loops, the coordinator's cycle
// driver among them.
type Scheduler struct {
	coordinator *coordinator.Coordinator
	reconciler  *reconcile.Reconciler
	hot         HotStoreCleaner
	cold        ColdStorePruner
	intervals   Intervals
	log         *logrus.Entry

	Clock func() time.Time
}

// New builds a Scheduler.
func New(coord *coordinator.Coordinator, reconciler *reconcile.Reconciler, hot HotStoreCleaner, cold ColdStorePruner, intervals Intervals, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		coordinator: coord,
		reconciler:  reconciler,
		hot:         hot,
		cold:        cold,
		intervals:   intervals,
		log:         log.WithField("component", "scheduler"),
		Clock:       time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Run starts every loop and blocks until ctx is cancelled or a loop returns a
// non-cancellation error, then waits for the rest to unwind.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.coordinator.Run(gctx, s.intervals.WeightCycle) })
	g.Go(func() error { return s.coordinator.RunHeartbeat(gctx, s.intervals.Heartbeat) })
	g.Go(func() error { return s.reconciler.Run(gctx, s.intervals.DriftReconcile) })
	g.Go(func() error { return s.runHotCleanup(gctx) })
	g.Go(func() error { return s.runColdSweep(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Scheduler) runHotCleanup(ctx context.Context) error {
	ticker := time.NewTicker(s.intervals.HotCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.hot.CleanupExpiredMetrics(ctx); removed > 0 {
				s.log.WithField("removed", removed).Debug("hot store cleanup swept expired metric keys")
			}
		}
	}
}

// runColdSweep re-arms a single timer for "duration until next local 02:00"
// after every fire. No cron-style scheduling library was found anywhere in
// the retrieved pack, so this one timer is hand-rolled over time.Timer
// (see DESIGN.md).
func (s *Scheduler) runColdSweep(ctx context.Context) error {
	for {
		wait := durationUntilNext2AM(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		cutoff := s.now().AddDate(0, 0, -s.intervals.RetentionDays)
		removed, err := s.cold.Prune(cutoff)
		if err != nil {
			s.log.WithError(err).Warn("cold store nightly sweep failed")
			continue
		}
		s.log.WithField("removed", removed).Info("cold store nightly sweep complete")
	}
}

// durationUntilNext2AM returns how long to wait from now until the next
// local 02:00, today's if not yet passed, else tomorrow's.
func durationUntilNext2AM(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

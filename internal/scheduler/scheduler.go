// Package scheduler drives the periodic lifecycle jobs: daily usage resets,
// hourly subscription sweeps, renewal reminders and monthly prediction
// resets. Every job is idempotent, so a replayed or concurrent run is safe;
// the guard and watermark exist to avoid wasted work, not for correctness.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/tiergate/internal/clock"
	"github.com/smallbiznis/tiergate/internal/notifier"
	obsmetrics "github.com/smallbiznis/tiergate/internal/observability/metrics"
	"github.com/smallbiznis/tiergate/internal/scheduler/guard"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const lockKeyPrefix = "tiergate:scheduler:"

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	UsageSvc        usagedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Dispatch        *notifier.Dispatcher

	Locker *Locker `optional:"true"`
	Config Config  `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	usageSvc        usagedomain.Service
	subscriptionSvc subscriptiondomain.Service
	dispatch        *notifier.Dispatcher
	locker          *Locker
	guard           *guard.SingleFlight

	mu       sync.Mutex
	lastFire map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.UsageSvc == nil || p.SubscriptionSvc == nil || p.Dispatch == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		dispatch:        p.Dispatch,
		locker:          p.Locker,
		guard:           guard.NewSingleFlight(),
		lastFire:        make(map[string]time.Time),
	}

	// Slots already in the past at startup never replay.
	now := s.clock.Now()
	for _, spec := range s.jobSpecs() {
		s.lastFire[spec.name] = spec.lastSlot(now)
	}
	return s, nil
}

// RunOnce fires every enabled job whose slot came due since its last fire.
// A slot fires at most once; a slot older than the misfire grace is dropped.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	for _, spec := range s.jobSpecs() {
		if !s.isJobEnabled(spec.name) {
			continue
		}

		now := s.clock.Now()
		slot := spec.lastSlot(now)
		if !s.slotPending(spec.name, slot) {
			continue
		}

		if now.Sub(slot) > s.cfg.MisfireGrace {
			s.advanceWatermark(spec.name, slot)
			s.log.Warn("job slot missed beyond grace, dropping",
				zap.String("job", spec.name),
				zap.Time("slot", slot),
				zap.Duration("late", now.Sub(slot)),
			)
			continue
		}

		ran, runErr := s.runJob(parent, spec.name, spec.run)
		if ran {
			s.advanceWatermark(spec.name, slot)
		}
		err = errors.Join(err, runErr)
	}

	return err
}

// RunForever drives RunOnce on the tick interval until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.TickInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.TickInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runJob wraps a job body with the single-flight guard, the optional
// cross-replica lock, the per-job timeout and metrics. Returns whether the
// body actually ran; a guarded skip leaves the slot pending for the next
// tick.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	schedMetrics := obsmetrics.Scheduler()

	if !s.guard.TryAcquire(name) {
		schedMetrics.IncJobSkip(name)
		s.log.Debug("job already in flight, skipping", zap.String("job", name))
		return false, nil
	}
	defer s.guard.Release(name)

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.locker != nil {
		key := lockKeyPrefix + name
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			// Lock store down: run locally. Jobs are idempotent, a rare
			// duplicate run across replicas is wasted work only.
			s.log.Warn("job lock unavailable, running unlocked",
				zap.String("job", name),
				zap.Error(err),
			)
		} else if !ok {
			schedMetrics.IncJobSkip(name)
			s.log.Debug("job held by another replica, skipping", zap.String("job", name))
			return false, nil
		} else {
			defer func() {
				if relErr := s.locker.Release(context.Background(), key, token); relErr != nil {
					s.log.Warn("job lock release failed",
						zap.String("job", name),
						zap.Error(relErr),
					)
				}
			}()
		}
	}

	start := s.clock.Now()
	log := s.log.With(zap.String("job", name))
	log.Info("job started")
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	log.Info("job finished", zap.Duration("duration", s.clock.Now().Sub(start)))
	if err == nil {
		return true, nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		// Soft timeout: partial progress is kept, the next slot resumes.
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return true, nil
	}

	log.Warn("job failed", zap.Error(err))
	return true, err
}

func (s *Scheduler) slotPending(name string, slot time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slot.After(s.lastFire[name])
}

func (s *Scheduler) advanceWatermark(name string, slot time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.After(s.lastFire[name]) {
		s.lastFire[name] = slot
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (single-binary mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

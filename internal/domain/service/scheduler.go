package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

const (
	DefaultRetentionDays = 70
	DefaultRetentionHour = 2
)

// SchedulerState is the phase of the rollover state machine.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateResetting
	StateRebuilding
)

func (s SchedulerState) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "idle"
	}
}

type SchedulerConfig struct {
	RetentionDays int
	RetentionHour int
	// RetentionTimeout bounds a single retention sweep.
	RetentionTimeout time.Duration
}

// DailyRolloverScheduler drives the midnight reset, the hourly rebuild and the
// daily retention sweep off an injectable clock.
type DailyRolloverScheduler struct {
	clock     clock.Clock
	cache     *AggregationCache
	rebuilder *RebuildCoordinator
	store     repository.TradePersistence
	metrics   useCases.Metrics
	cfg       SchedulerConfig
	log       *slog.Logger

	// transition serializes reset and rebuild transitions.
	transition sync.Mutex
	state      atomic.Int32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDailyRolloverScheduler(
	log *slog.Logger,
	clk clock.Clock,
	cache *AggregationCache,
	rebuilder *RebuildCoordinator,
	store repository.TradePersistence,
	metrics useCases.Metrics,
	cfg SchedulerConfig,
) *DailyRolloverScheduler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.RetentionHour < 0 || cfg.RetentionHour > 23 {
		cfg.RetentionHour = DefaultRetentionHour
	}
	if cfg.RetentionTimeout <= 0 {
		cfg.RetentionTimeout = 5 * time.Minute
	}
	return &DailyRolloverScheduler{
		clock:     clk,
		cache:     cache,
		rebuilder: rebuilder,
		store:     store,
		metrics:   metrics,
		cfg:       cfg,
		log:       log.With(slog.String("component", "scheduler")),
	}
}

func (s *DailyRolloverScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Start launches the timer loop. It returns immediately.
func (s *DailyRolloverScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("scheduler started", slog.Int("retention_days", s.cfg.RetentionDays), slog.Int("retention_hour", s.cfg.RetentionHour))
}

// Stop cancels the timer loop and waits for in-flight work.
func (s *DailyRolloverScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *DailyRolloverScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	cal := s.cache.Calendar()

	for {
		now := s.clock.Now()
		midnight := cal.NextMidnight(now)
		hour := cal.NextHour(now)
		retention := cal.NextDailyAt(now, s.cfg.RetentionHour)

		next := midnight
		if hour.Before(next) {
			next = hour
		}
		if retention.Before(next) {
			next = retention
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(now)):
		}

		fired := s.clock.Now()
		switch {
		case !fired.Before(midnight):
			s.RunRollover(ctx)
		case !fired.Before(hour):
			s.RunRebuild(ctx)
		}
		if !fired.Before(retention) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.RunRetention(ctx); err != nil {
					s.log.Warn("retention sweep failed", sl.Err(err))
				}
			}()
		}
	}
}

// RunRollover resets day-scoped state and then rebuilds every chain.
func (s *DailyRolloverScheduler) RunRollover(ctx context.Context) RebuildReport {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.state.Store(int32(StateResetting))
	s.log.Info("daily rollover")
	s.cache.ResetDaily()

	s.state.Store(int32(StateRebuilding))
	report := s.rebuilder.RebuildAll(ctx)

	s.state.Store(int32(StateIdle))
	return report
}

// RunRebuild rebuilds every chain without a preceding reset.
func (s *DailyRolloverScheduler) RunRebuild(ctx context.Context) RebuildReport {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.state.Store(int32(StateRebuilding))
	report := s.rebuilder.RebuildAll(ctx)
	s.state.Store(int32(StateIdle))
	return report
}

// RunRetention asks the store to delete trades older than the retention
// horizon. It never takes the transition lock.
func (s *DailyRolloverScheduler) RunRetention(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RetentionTimeout)
	defer cancel()

	cutoff := s.cache.Calendar().StartOfDay(s.clock.Now()).AddDate(0, 0, -s.cfg.RetentionDays)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete trades before %s: %w", cutoff.Format(DayLayout), err)
	}
	s.metrics.RetentionDeleted(n)
	s.log.Info("retention sweep", slog.Time("cutoff", cutoff), slog.Int64("deleted", n))
	return n, nil
}

package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// DashboardDeps collects everything NewDashboard wires together.
type DashboardDeps struct {
	Log            *slog.Logger
	Clock          clock.Clock
	Location       *time.Location
	Store          repository.TradePersistence
	Registry       repository.ChainRegistry
	Mirror         repository.SummaryMirror // optional
	Metrics        useCases.Metrics         // optional
	Cache          CacheConfig
	Scheduler      SchedulerConfig
	RebuildTimeout time.Duration
}

// Dashboard owns the one aggregation state of the process and the components
// that read and mutate it.
type Dashboard struct {
	Cache     *AggregationCache
	Fanout    *Fanout
	Ingestor  *EventIngestor
	Rebuilder *RebuildCoordinator
	Scheduler *DailyRolloverScheduler
	Trades    *TradeServiceImpl
	Nodes     *NodeStatusTracker

	store    repository.TradePersistence
	registry repository.ChainRegistry
	mirror   repository.SummaryMirror
	log      *slog.Logger
}

func NewDashboard(deps DashboardDeps) *Dashboard {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	log := deps.Log

	cache := NewAggregationCache(log, deps.Clock, NewCalendar(deps.Location), deps.Cache)
	fanout := NewFanout(log, deps.Clock, deps.Metrics)
	if deps.Mirror != nil {
		fanout.SetMirror(deps.Mirror)
	}
	ingestor := NewEventIngestor(log, cache, fanout, deps.Metrics)
	rebuilder := NewRebuildCoordinator(log, deps.Store, deps.Registry, cache, fanout, deps.Metrics, deps.RebuildTimeout)

	return &Dashboard{
		Cache:     cache,
		Fanout:    fanout,
		Ingestor:  ingestor,
		Rebuilder: rebuilder,
		Scheduler: NewDailyRolloverScheduler(log, deps.Clock, cache, rebuilder, deps.Store, deps.Metrics, deps.Scheduler),
		Trades:    NewTradeService(log, deps.Store, deps.Registry, ingestor, cache),
		Nodes:     NewNodeStatusTracker(log, deps.Clock, deps.Registry, fanout),
		store:     deps.Store,
		registry:  deps.Registry,
		mirror:    deps.Mirror,
		log:       log.With(slog.String("component", "dashboard")),
	}
}

// Init runs the cold-start reload and the first rebuild, seeds chains whose
// rebuild failed from the mirror, and starts the scheduler. Persistence
// failures degrade the cache but never fail Init.
func (d *Dashboard) Init(ctx context.Context) error {
	chains := d.registry.EnabledChains()

	n, err := d.Ingestor.Warm(ctx, d.store, chains)
	if err != nil {
		d.log.Warn("cold start reload incomplete", sl.Err(err))
	}

	report := d.Rebuilder.RebuildAll(ctx)
	if len(report.Failed) > 0 {
		failed := make([]string, 0, len(report.Failed))
		for chain := range report.Failed {
			failed = append(failed, chain)
		}
		sort.Strings(failed)
		d.Rebuilder.SeedFromMirror(ctx, d.mirror, failed)
	}

	d.Scheduler.Start(ctx)
	d.log.Info("aggregation cache ready",
		slog.Int("chains", len(chains)),
		slog.Int("replayed", n),
		slog.Int("rebuild_failures", len(report.Failed)),
	)
	return nil
}

// Shutdown stops the timers. Cache state is discarded with the process.
func (d *Dashboard) Shutdown() {
	d.Scheduler.Stop()
}

// CacheStats reports the cache sizes and the scheduler phase.
func (d *Dashboard) CacheStats() model.CacheStats {
	stats := d.Cache.Stats()
	stats.SchedulerState = d.Scheduler.State().String()
	return stats
}

// ClearAll wipes every cached structure and tells public subscribers.
func (d *Dashboard) ClearAll(ctx context.Context) {
	d.Cache.ClearAll()
	d.Fanout.Publish(ctx, model.TopicWelcomeStats, d.Cache.WelcomeStats(), model.AudiencePublic)
}

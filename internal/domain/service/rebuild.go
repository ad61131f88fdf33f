package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// DefaultRebuildTimeout bounds one full rebuild pass against the durable store.
const DefaultRebuildTimeout = 30 * time.Second

// RebuildReport lists the outcome of one rebuild pass.
type RebuildReport struct {
	Rebuilt []string          `json:"rebuilt"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// RebuildCoordinator recomputes every window of every enabled chain from the
// durable store and swaps the finished summaries into the cache.
type RebuildCoordinator struct {
	store    repository.TradePersistence
	registry repository.ChainRegistry
	cache    *AggregationCache
	fanout   *Fanout
	metrics  useCases.Metrics
	timeout  time.Duration
	log      *slog.Logger
}

func NewRebuildCoordinator(
	log *slog.Logger,
	store repository.TradePersistence,
	registry repository.ChainRegistry,
	cache *AggregationCache,
	fanout *Fanout,
	metrics useCases.Metrics,
	timeout time.Duration,
) *RebuildCoordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if timeout <= 0 {
		timeout = DefaultRebuildTimeout
	}
	return &RebuildCoordinator{
		store:    store,
		registry: registry,
		cache:    cache,
		fanout:   fanout,
		metrics:  metrics,
		timeout:  timeout,
		log:      log.With(slog.String("component", "rebuild")),
	}
}

// RebuildAll rebuilds every chain the registry currently enables. Chains are
// independent: one failing leaves its previous summary untouched and does not
// stop the others.
func (r *RebuildCoordinator) RebuildAll(ctx context.Context) RebuildReport {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	chains := r.registry.EnabledChains()
	now := r.cache.Now()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = RebuildReport{Rebuilt: []string{}, Failed: map[string]string{}}
	)
	for _, chain := range chains {
		wg.Add(1)
		go func(chain string) {
			defer wg.Done()
			err := r.RebuildChain(ctx, chain, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[chain] = err.Error()
				return
			}
			report.Rebuilt = append(report.Rebuilt, chain)
		}(chain)
	}
	wg.Wait()
	sort.Strings(report.Rebuilt)

	if len(report.Rebuilt) > 0 {
		r.fanout.Publish(ctx, model.TopicWelcomeStats, r.cache.WelcomeStats(), model.AudiencePublic)
	}
	r.log.Info("rebuild finished",
		slog.Int("rebuilt", len(report.Rebuilt)),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("took", r.cache.Now().Sub(now)),
	)
	return report
}

// RebuildChain computes the six windows of one chain relative to now. The new
// summary is only published once every window query has succeeded.
// Window sums stop at the store's id watermark; trades ingested past it while
// the queries run are re-applied by the swap.
func (r *RebuildCoordinator) RebuildChain(ctx context.Context, chain string, now time.Time) error {
	watermark, err := r.cache.StartRebuild(ctx, chain, r.store.MaxTradeID)
	if err != nil {
		return r.fail(chain, fmt.Errorf("watermark for %s: %w", chain, err))
	}

	windows := r.cache.Calendar().Windows(now)
	buckets := make([]model.PeriodBucket, len(windows))
	errs := make([]error, len(windows))

	var wg sync.WaitGroup
	for idx, w := range windows {
		wg.Add(1)
		go func(idx int, w Window) {
			defer wg.Done()
			buckets[idx], errs[idx] = r.store.SumForWindow(ctx, chain, w.Start, w.End, watermark)
		}(idx, w)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			r.cache.AbortRebuild(chain)
			return r.fail(chain, fmt.Errorf("sum %s for %s: %w", windows[idx].Period, chain, err))
		}
	}

	summary := model.ChainProfitSummary{Chain: chain, UpdatedAt: now, RebuiltAt: now}
	for idx, w := range windows {
		*summary.Bucket(w.Period) = buckets[idx]
	}
	summary = r.cache.ReplaceSummary(summary, watermark)
	r.metrics.RebuildFinished(chain, nil)

	r.fanout.PublishSummary(ctx, summary)
	return nil
}

func (r *RebuildCoordinator) fail(chain string, err error) error {
	r.metrics.RebuildFinished(chain, err)
	r.log.Warn("chain rebuild failed, keeping previous summary", slog.String("chain", chain), sl.Err(err))
	return err
}

// SeedFromMirror fills chains that have never been rebuilt with the last
// summaries written to the mirror. Their timestamps stay as stored.
func (r *RebuildCoordinator) SeedFromMirror(ctx context.Context, mirror repository.SummaryMirror, chains []string) int {
	if mirror == nil || len(chains) == 0 {
		return 0
	}
	summaries, err := mirror.GetAllSummaries(ctx)
	if err != nil {
		r.log.Warn("summary mirror unavailable", sl.Err(err))
		return 0
	}

	want := make(map[string]struct{}, len(chains))
	for _, c := range chains {
		want[c] = struct{}{}
	}
	seeded := 0
	for _, s := range summaries {
		if _, ok := want[s.Chain]; !ok {
			continue
		}
		if r.cache.SeedSummary(s) {
			seeded++
			r.log.Info("seeded summary from mirror",
				slog.String("chain", s.Chain),
				slog.Time("updated_at", s.UpdatedAt),
			)
		}
	}
	return seeded
}

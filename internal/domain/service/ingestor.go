package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// EventIngestor is the single entry point for trades and warnings that have
// already been written to the durable store.
type EventIngestor struct {
	cache   *AggregationCache
	fanout  *Fanout
	metrics useCases.Metrics
	log     *slog.Logger
}

func NewEventIngestor(log *slog.Logger, cache *AggregationCache, fanout *Fanout, metrics useCases.Metrics) *EventIngestor {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &EventIngestor{
		cache:   cache,
		fanout:  fanout,
		metrics: metrics,
		log:     log.With(slog.String("component", "ingestor")),
	}
}

// Ingest applies a trade to the cache and pushes the resulting snapshots.
func (i *EventIngestor) Ingest(ctx context.Context, trade model.Trade) (model.Trade, model.IngestOutcome) {
	res := i.cache.Ingest(trade)
	i.metrics.TradeIngested(trade.Chain, res.Outcome)
	if res.Outcome == model.DuplicateNoOp {
		i.log.Debug("duplicate trade ignored", slog.String("chain", trade.Chain), slog.String("hash", trade.Hash))
		return res.Trade, res.Outcome
	}
	i.reportBuffers()

	i.fanout.Publish(ctx, model.TopicNewTrade, res.Trade, model.AudienceAuthenticated)
	i.fanout.PublishSummary(ctx, res.Summary)

	if res.Trade.Income.IsPositive() {
		if len(res.Trade.Tags) > 0 {
			i.fanout.Publish(ctx, model.TopicTagProfits,
				model.ChainTagProfits{Chain: res.Trade.Chain, TagProfits: res.TagProfits},
				model.AudienceAuthenticated)
		}
		if len(res.Trade.Tokens) > 0 {
			i.fanout.Publish(ctx, model.TopicTokenProfits,
				model.ChainTokenProfits{Chain: res.Trade.Chain, TokenProfits: res.TokenProfits},
				model.AudienceAuthenticated)
		}
	}

	i.fanout.Publish(ctx, model.TopicWelcomeStats, i.cache.WelcomeStats(), model.AudiencePublic)
	return res.Trade, res.Outcome
}

// IngestWarning buffers a warning and announces it. It has no aggregation side effects.
func (i *EventIngestor) IngestWarning(ctx context.Context, warnType, msg, chain string) model.Warning {
	w := i.cache.AddWarning(warnType, msg, chain)
	i.reportBuffers()
	i.fanout.Publish(ctx, model.TopicNewWarning, w, model.AudienceAuthenticated)
	return w
}

func (i *EventIngestor) reportBuffers() {
	i.metrics.BufferedEvents(i.cache.BufferLens())
}

// Warm replays today's durable trades into the day-scoped structures, oldest
// first, without fanout. A chain whose reload fails is skipped; the joined
// error reports every failed chain.
func (i *EventIngestor) Warm(ctx context.Context, store repository.TradePersistence, chains []string) (int, error) {
	since := i.cache.Calendar().StartOfDay(i.cache.Now())

	var (
		replayed int
		errs     []error
	)
	for _, chain := range chains {
		trades, err := store.FindTradesSince(ctx, chain, since)
		if err != nil {
			i.log.Warn("cold start reload failed", slog.String("chain", chain), sl.Err(err))
			errs = append(errs, fmt.Errorf("reload %s: %w", chain, err))
			continue
		}

		sort.SliceStable(trades, func(a, b int) bool {
			if trades[a].CreatedAt.Equal(trades[b].CreatedAt) {
				return trades[a].ID < trades[b].ID
			}
			return trades[a].CreatedAt.Before(trades[b].CreatedAt)
		})

		n := 0
		for _, t := range trades {
			if i.cache.Replay(t) == model.Inserted {
				n++
			}
		}
		replayed += n
		i.log.Info("cold start reload", slog.String("chain", chain), slog.Int("trades", n))
	}
	i.reportBuffers()
	return replayed, errors.Join(errs...)
}

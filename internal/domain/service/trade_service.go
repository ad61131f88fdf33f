// Package service provides implementations of domain services that implement core business logic
// This package depends only on domain models and repository interfaces (not implementations)
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
)

// TradeServiceImpl is the ingestion boundary. A trade reaches the cache only
// after the durable store accepted it as new.
type TradeServiceImpl struct {
	store    repository.TradePersistence
	registry repository.ChainRegistry
	ingestor *EventIngestor
	cache    *AggregationCache
	log      *slog.Logger
}

// NewTradeService wires the durable store, the chain registry and the ingestor.
//
// Parameters:
//   - store: durable system of record; duplicate hashes are detected here
//   - registry: decides which chains are accepted
//   - ingestor: receives trades the store inserted
func NewTradeService(
	log *slog.Logger,
	store repository.TradePersistence,
	registry repository.ChainRegistry,
	ingestor *EventIngestor,
	cache *AggregationCache,
) *TradeServiceImpl {
	return &TradeServiceImpl{
		store:    store,
		registry: registry,
		ingestor: ingestor,
		cache:    cache,
		log:      log.With(slog.String("component", "trade_service")),
	}
}

// CreateTrade validates, stores and ingests a trade. A persistence failure is
// returned to the caller since nothing was written.
func (s *TradeServiceImpl) CreateTrade(ctx context.Context, trade model.Trade) (model.Trade, model.IngestOutcome, error) {
	trade.Normalize()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = s.cache.Now()
	}
	if err := trade.Validate(); err != nil {
		s.log.Debug("trade rejected", slog.String("hash", trade.Hash), slog.String("reason", err.Error()))
		return model.Trade{}, model.DuplicateNoOp, err
	}
	if !s.registry.IsEnabled(trade.Chain) {
		return model.Trade{}, model.DuplicateNoOp, fmt.Errorf("%w: %s", model.ErrUnknownChain, trade.Chain)
	}

	// The persisted ordinal is the chain's next sequence value; concurrent
	// inserts on one chain may share it.
	trade.Ordinal = s.cache.Sequence(trade.Chain) + 1

	release := s.cache.BeginInsert(trade.Chain)
	stored, dup, err := s.store.InsertTrade(ctx, trade)
	release()
	if err != nil {
		return model.Trade{}, model.DuplicateNoOp, fmt.Errorf("insert trade %s: %w", trade.Hash, err)
	}
	if dup {
		return stored, model.DuplicateNoOp, nil
	}

	out, outcome := s.ingestor.Ingest(ctx, stored)
	return out, outcome, nil
}

// CreateWarning buffers a warning raised by a producer.
func (s *TradeServiceImpl) CreateWarning(ctx context.Context, warnType, msg, chain string) (model.Warning, error) {
	warnType = strings.TrimSpace(warnType)
	msg = strings.TrimSpace(msg)
	if warnType == "" {
		return model.Warning{}, &model.ValidationError{Field: "type", Reason: "required"}
	}
	if msg == "" {
		return model.Warning{}, &model.ValidationError{Field: "msg", Reason: "required"}
	}
	return s.ingestor.IngestWarning(ctx, warnType, msg, strings.ToUpper(strings.TrimSpace(chain))), nil
}

// Ensure interface compliance
var _ useCases.TradeService = (*TradeServiceImpl)(nil)

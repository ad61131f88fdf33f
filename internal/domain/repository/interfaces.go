// Package repository defines all the repository interfaces used by domain services
// Following the dependency inversion principle, domain logic depends on these interfaces,
// and infrastructure implementations provide concrete implementations
package repository

import (
	"context"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// TradePersistence is the durable system of record for trades.
// Implementations wrap every driver failure in model.ErrPersistenceUnavailable.
type TradePersistence interface {
	// SumForWindow aggregates a chain's trades with start <= createdAt < end
	// and id <= upTo. It returns a zero bucket when no rows match.
	SumForWindow(ctx context.Context, chain string, start, end time.Time, upTo int64) (model.PeriodBucket, error)

	// MaxTradeID returns the highest id assigned so far, 0 for an empty store.
	// Ids grow with insertion order.
	MaxTradeID(ctx context.Context) (int64, error)

	// InsertTrade stores a trade unless its hash already exists.
	// On a duplicate the stored row is returned with wasDuplicate set.
	InsertTrade(ctx context.Context, trade model.Trade) (stored model.Trade, wasDuplicate bool, err error)

	// FindTradesSince returns a chain's trades created at or after since, oldest first.
	// This is used for the cold-start reload of day-scoped state.
	FindTradesSince(ctx context.Context, chain string, since time.Time) ([]model.Trade, error)

	// DeleteOlderThan removes trades created before cutoff and reports how many went.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChainRegistry reports the dynamically configured set of chains.
type ChainRegistry interface {
	EnabledChains() []string
	IsEnabled(chain string) bool
}

// SummaryMirror keeps a copy of the latest summaries outside the process.
// It is only a last-known-good seed, never a source of truth.
type SummaryMirror interface {
	SaveSummary(ctx context.Context, summary model.ChainProfitSummary) error
	GetAllSummaries(ctx context.Context) ([]model.ChainProfitSummary, error)
}

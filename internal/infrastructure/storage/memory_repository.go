package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
)

// MemoryRepository is an in-memory TradePersistence for demos and tests.
// SetUnavailable makes every call fail the way an unreachable database would.
type MemoryRepository struct {
	mutex       sync.RWMutex
	trades      map[string][]model.Trade // chain -> trades in insertion order
	hashes      map[string]model.Trade
	nextID      int64
	unavailable bool
	calls       map[string]int
}

var _ repository.TradePersistence = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		trades: make(map[string][]model.Trade),
		hashes: make(map[string]model.Trade),
		calls:  make(map[string]int),
	}
}

// SetUnavailable toggles simulated outages.
func (r *MemoryRepository) SetUnavailable(down bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.unavailable = down
}

// Calls reports how often an operation was invoked, including failed calls.
func (r *MemoryRepository) Calls(op string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.calls[op]
}

// enter must be called with the mutex held.
func (r *MemoryRepository) enter(op string) error {
	r.calls[op]++
	if r.unavailable {
		return fmt.Errorf("%s: %w", op, model.ErrPersistenceUnavailable)
	}
	return nil
}

func (r *MemoryRepository) InsertTrade(ctx context.Context, trade model.Trade) (model.Trade, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.enter("InsertTrade"); err != nil {
		return model.Trade{}, false, err
	}
	if existing, ok := r.hashes[trade.Hash]; ok {
		return existing.Clone(), true, nil
	}

	r.nextID++
	trade = trade.Clone()
	trade.ID = r.nextID
	r.trades[trade.Chain] = append(r.trades[trade.Chain], trade)
	r.hashes[trade.Hash] = trade
	return trade.Clone(), false, nil
}

func (r *MemoryRepository) SumForWindow(ctx context.Context, chain string, start, end time.Time, upTo int64) (model.PeriodBucket, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.enter("SumForWindow"); err != nil {
		return model.PeriodBucket{}, err
	}
	var b model.PeriodBucket
	for _, t := range r.trades[chain] {
		if t.ID <= upTo && !t.CreatedAt.Before(start) && t.CreatedAt.Before(end) {
			b.Add(t.Income, t.Gross)
		}
	}
	return b, nil
}

func (r *MemoryRepository) MaxTradeID(ctx context.Context) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.enter("MaxTradeID"); err != nil {
		return 0, err
	}
	return r.nextID, nil
}

func (r *MemoryRepository) FindTradesSince(ctx context.Context, chain string, since time.Time) ([]model.Trade, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.enter("FindTradesSince"); err != nil {
		return nil, err
	}
	result := make([]model.Trade, 0)
	for _, t := range r.trades[chain] {
		if !t.CreatedAt.Before(since) {
			result = append(result, t.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.enter("DeleteOlderThan"); err != nil {
		return 0, err
	}
	var n int64
	for chain, list := range r.trades {
		kept := list[:0]
		for _, t := range list {
			if t.CreatedAt.Before(cutoff) {
				delete(r.hashes, t.Hash)
				n++
				continue
			}
			kept = append(kept, t)
		}
		r.trades[chain] = kept
	}
	return n, nil
}

func (r *MemoryRepository) Health(ctx context.Context) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.unavailable {
		return fmt.Errorf("health: %w", model.ErrPersistenceUnavailable)
	}
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

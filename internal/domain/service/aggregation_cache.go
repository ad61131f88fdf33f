package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
)

const (
	DefaultTradeBufferSize   = 500
	DefaultWarningBufferSize = 100
	// TokenLeaderboardSize caps per-chain token rollups sent to subscribers.
	TokenLeaderboardSize = 100
)

// CacheConfig sizes the bounded structures of an AggregationCache.
type CacheConfig struct {
	TradeBufferSize   int
	WarningBufferSize int
	SeenHashCacheSize int
	SeenHashTTL       time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TradeBufferSize <= 0 {
		c.TradeBufferSize = DefaultTradeBufferSize
	}
	if c.WarningBufferSize <= 0 {
		c.WarningBufferSize = DefaultWarningBufferSize
	}
	if c.SeenHashCacheSize <= 0 {
		c.SeenHashCacheSize = 20000
	}
	if c.SeenHashTTL <= 0 {
		c.SeenHashTTL = 26 * time.Hour
	}
	return c
}

// chainState is everything one chain's ingestion mutates. mu serializes it.
type chainState struct {
	mu      sync.Mutex
	summary model.ChainProfitSummary
	rebuilt bool
	seq     SequenceCounter
	tags    *TagProfitTable
	tokens  *TokenProfitTable

	// gate is held shared across durable inserts and exclusively while a
	// rebuild reads its watermark, so every id at or below the watermark
	// is already committed.
	gate sync.RWMutex

	// rebuilds counts rebuilds in flight; while non-zero, ingested trades are
	// kept in pending so the swap can re-apply those the queries missed.
	rebuilds int
	pending  []model.Trade
}

// IngestResult carries the post-update snapshots taken under the chain lock.
type IngestResult struct {
	Outcome      model.IngestOutcome
	Trade        model.Trade
	Summary      model.ChainProfitSummary
	TagProfits   []model.TagProfitEntry
	TokenProfits []model.TokenProfitEntry
}

// AggregationCache is the process-wide aggregation state. It is created once at
// startup and shared by reference; nothing in it survives a restart.
type AggregationCache struct {
	calendar Calendar
	clock    clock.Clock
	log      *slog.Logger

	chainsMu sync.RWMutex
	chains   map[string]*chainState

	trades   *RingBuffer[string, model.Trade]
	warnings *RingBuffer[uint64, model.Warning]
	seen     *expirable.LRU[string, struct{}]

	warningSeq atomic.Uint64

	resetMu        sync.Mutex
	lastDailyReset string

	// welcome mirrors each chain's today bucket so the public stats never
	// take every chain lock.
	welcomeMu sync.RWMutex
	welcome   map[string]model.WelcomeStat
}

func NewAggregationCache(log *slog.Logger, clk clock.Clock, calendar Calendar, cfg CacheConfig) *AggregationCache {
	cfg = cfg.withDefaults()
	c := &AggregationCache{
		calendar: calendar,
		clock:    clk,
		log:      log.With(slog.String("component", "aggregation_cache")),
		chains:   make(map[string]*chainState),
		trades:   NewRingBuffer(cfg.TradeBufferSize, func(t model.Trade) string { return t.Hash }),
		warnings: NewRingBuffer(cfg.WarningBufferSize, func(w model.Warning) uint64 { return w.ID }),
		seen:     expirable.NewLRU[string, struct{}](cfg.SeenHashCacheSize, nil, cfg.SeenHashTTL),
		welcome:  make(map[string]model.WelcomeStat),
	}
	c.lastDailyReset = calendar.Day(clk.Now())
	return c
}

func (c *AggregationCache) Calendar() Calendar { return c.calendar }

func (c *AggregationCache) Now() time.Time { return c.clock.Now() }

func (c *AggregationCache) chain(id string) *chainState {
	c.chainsMu.RLock()
	st, ok := c.chains[id]
	c.chainsMu.RUnlock()
	if ok {
		return st
	}

	c.chainsMu.Lock()
	defer c.chainsMu.Unlock()
	if st, ok = c.chains[id]; ok {
		return st
	}
	st = &chainState{
		summary: model.ChainProfitSummary{Chain: id},
		tags:    NewTagProfitTable(id),
		tokens:  NewTokenProfitTable(id),
	}
	c.chains[id] = st
	return st
}

func (c *AggregationCache) lookup(id string) (*chainState, bool) {
	c.chainsMu.RLock()
	defer c.chainsMu.RUnlock()
	st, ok := c.chains[id]
	return st, ok
}

// sortedStates returns the chain states ordered by id, the lock order for multi-chain work.
func (c *AggregationCache) sortedStates() []*chainState {
	c.chainsMu.RLock()
	ids := make([]string, 0, len(c.chains))
	for id := range c.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	states := make([]*chainState, len(ids))
	for i, id := range ids {
		states[i] = c.chains[id]
	}
	c.chainsMu.RUnlock()
	return states
}

// Ingest applies a trade to every day-scoped structure and the live windows.
// A trade whose hash is already known changes nothing.
// The trade must already be validated and normalized.
func (c *AggregationCache) Ingest(trade model.Trade) IngestResult {
	return c.apply(trade, true)
}

// Replay is Ingest for the cold-start reload: it fills the buffer, the tag and
// token tables and the sequence counter but leaves the window summary to the
// rebuild that follows.
func (c *AggregationCache) Replay(trade model.Trade) model.IngestOutcome {
	return c.apply(trade, false).Outcome
}

func (c *AggregationCache) apply(trade model.Trade, windows bool) IngestResult {
	st := c.chain(trade.Chain)

	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := c.trades.Find(trade.Hash); ok {
		return IngestResult{Outcome: model.DuplicateNoOp, Trade: existing.Clone(), Summary: st.summary}
	}
	if c.seen.Contains(trade.Hash) {
		return IngestResult{Outcome: model.DuplicateNoOp, Trade: trade, Summary: st.summary}
	}

	trade = trade.Clone()
	if trade.Ordinal == 0 {
		trade.Ordinal = st.seq.Value() + 1
	}
	if _, inserted := c.trades.Push(trade); !inserted {
		// Same hash pushed concurrently under another chain's lock.
		existing, _ := c.trades.Find(trade.Hash)
		return IngestResult{Outcome: model.DuplicateNoOp, Trade: existing.Clone(), Summary: st.summary}
	}
	st.seq.Next()
	c.seen.Add(trade.Hash, struct{}{})

	now := c.clock.Now()
	day := c.calendar.Day(now)

	// Tag and token rollups only accumulate profitable trades; window counts take every trade.
	if trade.Income.IsPositive() {
		for _, tag := range trade.Tags {
			st.tags.Record(day, tag, trade.Income, 1)
		}
		for _, tok := range trade.Tokens {
			st.tokens.Record(tok, trade.Income)
		}
	}

	if windows {
		addToLiveWindows(&st.summary, c.calendar.LiveWindows(now), trade)
		st.summary.UpdatedAt = now
		if st.rebuilds > 0 {
			st.pending = append(st.pending, trade)
		}
		c.setWelcome(st.summary)
	}

	return IngestResult{
		Outcome:      model.Inserted,
		Trade:        trade.Clone(),
		Summary:      st.summary,
		TagProfits:   st.tagLeaderboard(day),
		TokenProfits: st.tokenLeaderboard(TokenLeaderboardSize),
	}
}

func addToLiveWindows(summary *model.ChainProfitSummary, live []Window, trade model.Trade) {
	for _, w := range live {
		if w.Contains(trade.CreatedAt) {
			summary.Bucket(w.Period).Add(trade.Income, trade.Gross)
		}
	}
}

func (c *AggregationCache) setWelcome(summary model.ChainProfitSummary) {
	c.welcomeMu.Lock()
	c.welcome[summary.Chain] = model.WelcomeStat{Chain: summary.Chain, Income: summary.Today.Income, TxCount: summary.Today.Count}
	c.welcomeMu.Unlock()
}

// BeginInsert must bracket the durable insert of a trade for chain.
func (c *AggregationCache) BeginInsert(chain string) (release func()) {
	st := c.chain(chain)
	st.gate.RLock()
	return st.gate.RUnlock
}

// StartRebuild begins tracking chain's ingests and reads the store watermark
// with no insert in flight. Every successful call must be followed by
// ReplaceSummary or AbortRebuild.
func (c *AggregationCache) StartRebuild(ctx context.Context, chain string, watermark func(context.Context) (int64, error)) (int64, error) {
	st := c.chain(chain)
	st.mu.Lock()
	st.rebuilds++
	st.mu.Unlock()

	st.gate.Lock()
	id, err := watermark(ctx)
	st.gate.Unlock()
	if err != nil {
		c.AbortRebuild(chain)
		return 0, err
	}
	return id, nil
}

// AbortRebuild ends tracking for a rebuild that will not swap.
func (c *AggregationCache) AbortRebuild(chain string) {
	st := c.chain(chain)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endRebuildLocked()
}

func (st *chainState) endRebuildLocked() {
	if st.rebuilds > 0 {
		st.rebuilds--
	}
	if st.rebuilds == 0 {
		st.pending = nil
	}
}

func (st *chainState) tagLeaderboard(day string) []model.TagProfitEntry {
	entries := st.tags.Query(day)
	SortTagsByProfit(entries)
	return entries
}

func (st *chainState) tokenLeaderboard(limit int) []model.TokenProfitEntry {
	entries := st.tokens.Entries()
	SortTokensByProfit(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ReplaceSummary swaps in a summary built from rows with id <= watermark.
// Trades ingested since StartRebuild with a higher id are added back onto
// its live windows.
func (c *AggregationCache) ReplaceSummary(summary model.ChainProfitSummary, watermark int64) model.ChainProfitSummary {
	st := c.chain(summary.Chain)
	st.mu.Lock()
	defer st.mu.Unlock()

	live := c.calendar.LiveWindows(summary.RebuiltAt)
	for _, t := range st.pending {
		if t.ID > watermark {
			addToLiveWindows(&summary, live, t)
		}
	}
	st.endRebuildLocked()

	st.summary = summary
	st.rebuilt = true
	c.setWelcome(st.summary)
	return st.summary
}

// SeedSummary installs a last-known-good summary for a chain that has never been rebuilt.
func (c *AggregationCache) SeedSummary(summary model.ChainProfitSummary) bool {
	st := c.chain(summary.Chain)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.rebuilt {
		return false
	}
	st.summary = summary
	st.rebuilt = true
	c.setWelcome(st.summary)
	return true
}

// Rebuilt reports whether the chain has ever received a full summary.
func (c *AggregationCache) Rebuilt(chain string) bool {
	st, ok := c.lookup(chain)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rebuilt
}

// ResetDaily discards day-scoped state: tag and token tables, sequence counters and
// the trade buffer. Window summaries and warnings are left alone.
func (c *AggregationCache) ResetDaily() {
	c.chainsMu.RLock()
	defer c.chainsMu.RUnlock()

	ids := make([]string, 0, len(c.chains))
	for id := range c.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tagRows, tokenRows int
	for _, id := range ids {
		st := c.chains[id]
		st.mu.Lock()
		tagRows += st.tags.Len()
		tokenRows += st.tokens.Len()
		st.tags.Reset()
		st.tokens.Reset()
		st.seq.Reset()
	}
	trades := c.trades.Len()
	c.trades.Clear()
	for i := len(ids) - 1; i >= 0; i-- {
		c.chains[ids[i]].mu.Unlock()
	}

	day := c.calendar.Day(c.clock.Now())
	c.resetMu.Lock()
	c.lastDailyReset = day
	c.resetMu.Unlock()

	c.log.Info("daily cache reset",
		slog.String("day", day),
		slog.Int("trades", trades),
		slog.Int("tag_rows", tagRows),
		slog.Int("token_rows", tokenRows),
	)
}

// ClearAll drops every piece of state, including summaries and warnings.
func (c *AggregationCache) ClearAll() {
	c.chainsMu.Lock()
	c.chains = make(map[string]*chainState)
	c.chainsMu.Unlock()

	c.welcomeMu.Lock()
	c.welcome = make(map[string]model.WelcomeStat)
	c.welcomeMu.Unlock()

	c.trades.Clear()
	c.warnings.Clear()
	c.seen.Purge()
	c.warningSeq.Store(0)

	c.resetMu.Lock()
	c.lastDailyReset = c.calendar.Day(c.clock.Now())
	c.resetMu.Unlock()

	c.log.Info("cache cleared")
}

// Summary returns a copy of a chain's summary.
func (c *AggregationCache) Summary(chain string) (model.ChainProfitSummary, bool) {
	st, ok := c.lookup(chain)
	if !ok {
		return model.ChainProfitSummary{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary, true
}

// Summaries returns every tracked chain's summary ordered by chain id.
func (c *AggregationCache) Summaries() []model.ChainProfitSummary {
	states := c.sortedStates()
	out := make([]model.ChainProfitSummary, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.summary)
		st.mu.Unlock()
	}
	return out
}

// WelcomeStats projects each summary's today bucket, ordered by chain id.
func (c *AggregationCache) WelcomeStats() []model.WelcomeStat {
	c.welcomeMu.RLock()
	out := make([]model.WelcomeStat, 0, len(c.welcome))
	for _, w := range c.welcome {
		out = append(out, w)
	}
	c.welcomeMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// BufferLens reports the trade and warning buffer sizes without touching chain state.
func (c *AggregationCache) BufferLens() (trades, warnings int) {
	return c.trades.Len(), c.warnings.Len()
}

// Sequence returns the chain's current daily ordinal.
func (c *AggregationCache) Sequence(chain string) uint64 {
	st, ok := c.lookup(chain)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq.Value()
}

// TagProfits returns raw tag rows. An empty chain means every chain and an
// empty day means today.
func (c *AggregationCache) TagProfits(chain, day string) []model.TagProfitEntry {
	if day == "" {
		day = c.calendar.Day(c.clock.Now())
	}
	var states []*chainState
	if chain != "" {
		st, ok := c.lookup(chain)
		if !ok {
			return []model.TagProfitEntry{}
		}
		states = []*chainState{st}
	} else {
		states = c.sortedStates()
	}

	out := make([]model.TagProfitEntry, 0)
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.tags.Query(day)...)
		st.mu.Unlock()
	}
	return out
}

// TagProfitStats is today's tag leaderboard for a chain.
func (c *AggregationCache) TagProfitStats(chain string) []model.TagProfitEntry {
	st, ok := c.lookup(chain)
	if !ok {
		return []model.TagProfitEntry{}
	}
	day := c.calendar.Day(c.clock.Now())
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tagLeaderboard(day)
}

// ChainTokenStats is the chain's token leaderboard, capped at TokenLeaderboardSize.
func (c *AggregationCache) ChainTokenStats(chain string) []model.TokenProfitEntry {
	st, ok := c.lookup(chain)
	if !ok {
		return []model.TokenProfitEntry{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tokenLeaderboard(TokenLeaderboardSize)
}

// AllTokenStats groups every token row by chain, each group sorted by profit.
func (c *AggregationCache) AllTokenStats() map[string][]model.TokenProfitEntry {
	out := make(map[string][]model.TokenProfitEntry)
	for _, st := range c.sortedStates() {
		st.mu.Lock()
		if st.tokens.Len() > 0 {
			out[st.summary.Chain] = st.tokenLeaderboard(0)
		}
		st.mu.Unlock()
	}
	return out
}

// TopTokens ranks tokens across chains.
func (c *AggregationCache) TopTokens(limit int) []model.TokenProfitEntry {
	all := make([]model.TokenProfitEntry, 0)
	for _, st := range c.sortedStates() {
		st.mu.Lock()
		all = append(all, st.tokens.Entries()...)
		st.mu.Unlock()
	}
	SortTokensByProfit(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// TokenStats looks a single token up.
func (c *AggregationCache) TokenStats(chain, addr string) (model.TokenProfitEntry, bool) {
	st, ok := c.lookup(chain)
	if !ok {
		return model.TokenProfitEntry{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tokens.Get(addr)
}

// Trades returns up to limit buffered trades newest first.
func (c *AggregationCache) Trades(limit int) []model.Trade {
	return c.trades.Get(limit)
}

func (c *AggregationCache) TradesByChain(chain string, limit int) []model.Trade {
	return c.trades.Filter(func(t model.Trade) bool { return t.Chain == chain }, limit)
}

func (c *AggregationCache) TradeByHash(hash string) (model.Trade, bool) {
	t, ok := c.trades.Find(hash)
	if !ok {
		return model.Trade{}, false
	}
	return t.Clone(), true
}

// SearchTrades filters the buffer by chain, hash/builder keyword and tag substring.
func (c *AggregationCache) SearchTrades(f model.TradeFilter) []model.Trade {
	keyword := strings.ToLower(f.Keyword)
	tag := strings.ToLower(f.Tag)
	return c.trades.Filter(func(t model.Trade) bool {
		if f.Chain != "" && t.Chain != f.Chain {
			return false
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(t.Hash), keyword) &&
			!strings.Contains(strings.ToLower(t.Builder), keyword) {
			return false
		}
		if tag != "" {
			found := false
			for _, tg := range t.Tags {
				if strings.Contains(strings.ToLower(tg), tag) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}, f.Limit)
}

// AddWarning stamps a process-local id on a warning and buffers it.
func (c *AggregationCache) AddWarning(warnType, msg, chain string) model.Warning {
	w := model.Warning{
		ID:        c.warningSeq.Add(1),
		Type:      warnType,
		Message:   msg,
		Chain:     chain,
		CreatedAt: c.clock.Now(),
	}
	c.warnings.Push(w)
	return w
}

// Warnings returns buffered warnings newest first, optionally for one chain.
func (c *AggregationCache) Warnings(chain string, limit int) []model.Warning {
	if chain == "" {
		return c.warnings.Get(limit)
	}
	return c.warnings.Filter(func(w model.Warning) bool { return w.Chain == chain }, limit)
}

func (c *AggregationCache) WarningByID(id uint64) (model.Warning, bool) {
	return c.warnings.Find(id)
}

func (c *AggregationCache) DeleteWarning(id uint64) bool {
	return c.warnings.Remove(id) == 1
}

func (c *AggregationCache) DeleteWarnings(ids []uint64) int {
	return c.warnings.Remove(ids...)
}

func (c *AggregationCache) ClearWarnings() {
	c.warnings.Clear()
	c.log.Info("warnings cleared")
}

// WarningStats counts buffered warnings by chain and by type.
func (c *AggregationCache) WarningStats() model.WarningStats {
	warnings := c.warnings.Get(0)
	byChain := map[string]int{}
	byType := map[string]int{}
	for _, w := range warnings {
		byChain[w.Chain]++
		byType[w.Type]++
	}
	return model.WarningStats{
		Total:   len(warnings),
		ByChain: sortedCounts(byChain),
		ByType:  sortedCounts(byType),
	}
}

func sortedCounts(m map[string]int) []model.CountByKey {
	out := make([]model.CountByKey, 0, len(m))
	for k, n := range m {
		out = append(out, model.CountByKey{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Stats reports the size of every cached structure.
func (c *AggregationCache) Stats() model.CacheStats {
	stats := model.CacheStats{
		Trades:      c.trades.Len(),
		Warnings:    c.warnings.Len(),
		GeneratedAt: c.clock.Now(),
	}
	for _, st := range c.sortedStates() {
		st.mu.Lock()
		stats.TagProfits += st.tags.Len()
		stats.TokenProfits += st.tokens.Len()
		st.mu.Unlock()
		stats.Chains++
	}
	c.resetMu.Lock()
	stats.LastDailyReset = c.lastDailyReset
	c.resetMu.Unlock()
	return stats
}

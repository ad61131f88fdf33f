package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/service"
	"github.com/jessson/mev-dashboard/internal/infrastructure/registry"
	"github.com/jessson/mev-dashboard/internal/infrastructure/storage"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
)

// Wednesday; the week started on Sunday 2026-10-11.
var noon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTrade(hash string, income, gross int64, at time.Time, tags ...string) model.Trade {
	return model.Trade{
		Chain:     "BSC",
		Builder:   "titan",
		Hash:      hash,
		Income:    decimal.NewFromInt(income),
		Gross:     decimal.NewFromInt(gross),
		Tags:      tags,
		CreatedAt: at,
	}
}

func newCache(clk clock.Clock, cfg service.CacheConfig) *service.AggregationCache {
	return service.NewAggregationCache(testLogger(), clk, service.NewCalendar(time.UTC), cfg)
}

// recordingSink remembers every message it is handed.
type recordingSink struct {
	mu   sync.Mutex
	msgs []model.Message
	err  error
}

func (s *recordingSink) Publish(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) byTopic(topic model.Topic) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

// recordingMetrics counts calls made through useCases.Metrics.
type recordingMetrics struct {
	mu             sync.Mutex
	ingested       map[model.IngestOutcome]int
	rebuildErrors  map[string]int
	fanoutFailures map[string]int
	retention      int64
	buffered       [2]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		ingested:       map[model.IngestOutcome]int{},
		rebuildErrors:  map[string]int{},
		fanoutFailures: map[string]int{},
	}
}

func (m *recordingMetrics) TradeIngested(chain string, outcome model.IngestOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested[outcome]++
}

func (m *recordingMetrics) RebuildFinished(chain string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildErrors[chain]++
}

func (m *recordingMetrics) FanoutFailed(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanoutFailures[sink]++
}

func (m *recordingMetrics) RetentionDeleted(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention += n
}

func (m *recordingMetrics) BufferedEvents(trades, warnings int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffered = [2]int{trades, warnings}
}

func (m *recordingMetrics) snapshot(f func(m *recordingMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}

// memoryMirror is a SummaryMirror kept in a map.
type memoryMirror struct {
	mu        sync.Mutex
	summaries map[string]model.ChainProfitSummary
	down      bool
}

func newMemoryMirror(seed ...model.ChainProfitSummary) *memoryMirror {
	m := &memoryMirror{summaries: map[string]model.ChainProfitSummary{}}
	for _, s := range seed {
		m.summaries[s.Chain] = s
	}
	return m
}

func (m *memoryMirror) SaveSummary(ctx context.Context, summary model.ChainProfitSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("mirror down")
	}
	m.summaries[summary.Chain] = summary
	return nil
}

func (m *memoryMirror) GetAllSummaries(ctx context.Context) ([]model.ChainProfitSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("mirror down")
	}
	out := make([]model.ChainProfitSummary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryMirror) get(chain string) (model.ChainProfitSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[chain]
	return s, ok
}

// env is a fully wired dashboard over the in-memory store.
type env struct {
	clock    *clock.Fake
	store    *storage.MemoryRepository
	registry *registry.MemoryRegistry
	sink     *recordingSink
	metrics  *recordingMetrics
	dash     *service.Dashboard
}

func newEnv(t *testing.T, now time.Time, mutate ...func(*service.DashboardDeps)) *env {
	t.Helper()
	e := &env{
		clock:    clock.NewFake(now),
		store:    storage.NewMemoryRepository(),
		registry: registry.NewMemoryRegistry(nil),
		sink:     &recordingSink{},
		metrics:  newRecordingMetrics(),
	}
	deps := service.DashboardDeps{
		Log:      testLogger(),
		Clock:    e.clock,
		Location: time.UTC,
		Store:    e.store,
		Registry: e.registry,
		Metrics:  e.metrics,
	}
	for _, m := range mutate {
		m(&deps)
	}
	e.dash = service.NewDashboard(deps)
	e.dash.Fanout.AddSink("recorder", e.sink)
	t.Cleanup(e.dash.Shutdown)
	return e
}

func (e *env) create(t *testing.T, trade model.Trade) model.IngestOutcome {
	t.Helper()
	_, outcome, err := e.dash.Trades.CreateTrade(context.Background(), trade)
	if err != nil {
		t.Fatalf("CreateTrade(%s) failed: %v", trade.Hash, err)
	}
	return outcome
}

func (e *env) summary(t *testing.T, chain string) model.ChainProfitSummary {
	t.Helper()
	s, ok := e.dash.Cache.Summary(chain)
	if !ok {
		t.Fatalf("No summary for %s", chain)
	}
	return s
}

func bucket(income, gross int64, count uint64) model.PeriodBucket {
	return model.PeriodBucket{Income: decimal.NewFromInt(income), Gross: decimal.NewFromInt(gross), Count: count}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

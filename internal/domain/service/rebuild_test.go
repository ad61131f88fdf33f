package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/service"
	"github.com/jessson/mev-dashboard/internal/infrastructure/storage"
)

func TestRebuildConvergesWithIncrementalWindows(t *testing.T) {
	e := newEnv(t, noon)
	ctx := context.Background()

	times := []time.Time{
		noon.Add(-2 * time.Hour),
		noon.AddDate(0, 0, -1),
		time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC),
		noon,
	}
	for i, at := range times {
		e.create(t, newTrade(fmt.Sprintf("0x%d", i), int64(i+1), int64(i+2), at))
	}
	incremental := e.summary(t, "BSC")

	report := e.dash.Scheduler.RunRebuild(ctx)
	if len(report.Failed) != 0 {
		t.Fatalf("Unexpected rebuild failures: %v", report.Failed)
	}
	rebuilt := e.summary(t, "BSC")

	for _, p := range []model.Period{model.PeriodToday, model.PeriodThisWeek, model.PeriodThisMonth} {
		if !incremental.Bucket(p).Equal(*rebuilt.Bucket(p)) {
			t.Errorf("%s: incremental %+v != rebuilt %+v", p, *incremental.Bucket(p), *rebuilt.Bucket(p))
		}
	}
	if !rebuilt.Yesterday.Equal(bucket(2, 3, 1)) {
		t.Errorf("Expected yesterday {2,3,1}, got %+v", rebuilt.Yesterday)
	}
	if !rebuilt.RebuiltAt.Equal(noon) || !rebuilt.UpdatedAt.Equal(noon) {
		t.Errorf("Expected rebuild timestamps at %s, got %s / %s", noon, rebuilt.RebuiltAt, rebuilt.UpdatedAt)
	}
	if got := e.sink.byTopic(model.TopicWelcomeStats); len(got) == 0 {
		t.Error("Expected welcome stats after a successful rebuild")
	}
}

func TestRebuildFailureKeepsPreviousSummary(t *testing.T) {
	e := newEnv(t, noon)
	ctx := context.Background()

	e.create(t, newTrade("0xA", 10, 12, noon))
	e.dash.Scheduler.RunRebuild(ctx)
	before := e.summary(t, "BSC")

	e.store.SetUnavailable(true)
	e.clock.Advance(time.Hour)
	e.sink.reset()

	report := e.dash.Scheduler.RunRebuild(ctx)
	if _, failed := report.Failed["BSC"]; !failed {
		t.Fatalf("Expected BSC to fail, got %+v", report)
	}
	if len(report.Rebuilt) != 0 {
		t.Errorf("Expected no chain rebuilt, got %v", report.Rebuilt)
	}

	after := e.summary(t, "BSC")
	if !after.SameBuckets(before) || !after.UpdatedAt.Equal(before.UpdatedAt) || !after.RebuiltAt.Equal(before.RebuiltAt) {
		t.Errorf("Failed rebuild changed the summary: %+v -> %+v", before, after)
	}
	if got := e.sink.byTopic(model.TopicProfitUpdate); len(got) != 0 {
		t.Errorf("A failed rebuild must not publish, got %d profit updates", len(got))
	}
	e.metrics.snapshot(func(m *recordingMetrics) {
		if m.rebuildErrors["BSC"] != 1 {
			t.Errorf("Expected one recorded BSC rebuild error, got %d", m.rebuildErrors["BSC"])
		}
	})

	e.store.SetUnavailable(false)
	if report := e.dash.Scheduler.RunRebuild(ctx); len(report.Failed) != 0 {
		t.Errorf("Expected recovery once the store is back, got %v", report.Failed)
	}
}

func TestInitSeedsFromMirrorWhenStoreIsDown(t *testing.T) {
	stale := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	mirror := newMemoryMirror(
		model.ChainProfitSummary{Chain: "BSC", Today: bucket(42, 50, 3), UpdatedAt: stale},
		model.ChainProfitSummary{Chain: "POLYGON", Today: bucket(1, 1, 1), UpdatedAt: stale},
	)
	e := newEnv(t, noon, func(d *service.DashboardDeps) { d.Mirror = mirror })
	e.store.SetUnavailable(true)

	if err := e.dash.Init(context.Background()); err != nil {
		t.Fatalf("Init must not fail on a degraded store: %v", err)
	}

	s := e.summary(t, "BSC")
	if !s.Today.Equal(bucket(42, 50, 3)) || !s.UpdatedAt.Equal(stale) {
		t.Errorf("Expected BSC seeded from the mirror, got %+v", s)
	}
	if _, ok := e.dash.Cache.Summary("POLYGON"); ok {
		t.Error("Disabled chains must not be seeded")
	}
	if !e.dash.Cache.Rebuilt("BSC") {
		t.Error("A seeded chain counts as having a summary")
	}

	// A later hourly rebuild replaces the seeded copy.
	e.store.SetUnavailable(false)
	e.dash.Scheduler.RunRebuild(context.Background())
	if s := e.summary(t, "BSC"); s.Today.Count != 0 {
		t.Errorf("Expected the rebuild to replace the seed, got %+v", s.Today)
	}
	if saved, ok := mirror.get("BSC"); !ok || saved.Today.Count != 0 {
		t.Errorf("Expected the mirror to receive the rebuilt summary, got %+v", saved)
	}
}

func TestInitReplaysTodayAndRebuilds(t *testing.T) {
	e := newEnv(t, noon)
	ctx := context.Background()

	for i, at := range []time.Time{noon.Add(-time.Hour), noon.AddDate(0, 0, -1)} {
		tr := newTrade(fmt.Sprintf("0x%d", i), 5, 5, at, "Arb")
		if _, _, err := e.store.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("Seeding store failed: %v", err)
		}
	}

	if err := e.dash.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if n := e.dash.Cache.Stats().Trades; n != 1 {
		t.Errorf("Expected only today's trade replayed, got %d", n)
	}
	s := e.summary(t, "BSC")
	if !s.Today.Equal(bucket(5, 5, 1)) || !s.Yesterday.Equal(bucket(5, 5, 1)) {
		t.Errorf("Expected windows from the first rebuild, got today %+v yesterday %+v", s.Today, s.Yesterday)
	}
	if arb, ok := tagEntry(t, e.dash.Cache, "BSC", "Arb"); !ok || arb.TxCount != 1 {
		t.Errorf("Expected Arb filled by the reload, got %+v", arb)
	}
	if got := e.sink.byTopic(model.TopicNewTrade); len(got) != 0 {
		t.Errorf("Cold start must not announce replayed trades, got %d", len(got))
	}
}

func TestFanoutIsolatesFailingSinks(t *testing.T) {
	e := newEnv(t, noon)
	broken := &recordingSink{err: errors.New("connection reset")}
	e.dash.Fanout.AddSink("broken", broken)
	mirror := newMemoryMirror()
	mirror.down = true
	e.dash.Fanout.SetMirror(mirror)

	e.create(t, newTrade("0xA", 10, 12, noon, "Arb"))

	if got := e.sink.byTopic(model.TopicNewTrade); len(got) != 1 {
		t.Fatalf("Expected the healthy sink to receive the trade, got %d", len(got))
	}
	if got := broken.byTopic(model.TopicNewTrade); len(got) != 1 {
		t.Errorf("Expected the broken sink to be tried, got %d", len(got))
	}
	e.metrics.snapshot(func(m *recordingMetrics) {
		if m.fanoutFailures["broken"] == 0 || m.fanoutFailures["mirror"] == 0 {
			t.Errorf("Expected failures counted per sink, got %v", m.fanoutFailures)
		}
	})
	if s := e.summary(t, "BSC"); s.Today.Count != 1 {
		t.Errorf("Fanout failures must not undo the ingest, got %+v", s.Today)
	}
}

func TestIngestPublishesSnapshots(t *testing.T) {
	e := newEnv(t, noon)

	tr := newTrade("0xA", 10, 12, noon, "Arb")
	tr.Tokens = []model.TokenRef{{Address: "0xabc", Symbol: "WBNB"}}
	e.create(t, tr)
	e.create(t, newTrade("0xL", -1, 1, noon, "Arb"))

	counts := map[model.Topic]int{}
	for _, topic := range []model.Topic{
		model.TopicNewTrade, model.TopicProfitUpdate, model.TopicTagProfits,
		model.TopicTokenProfits, model.TopicWelcomeStats,
	} {
		counts[topic] = len(e.sink.byTopic(topic))
	}
	if counts[model.TopicNewTrade] != 2 || counts[model.TopicProfitUpdate] != 2 || counts[model.TopicWelcomeStats] != 2 {
		t.Errorf("Expected per-trade announcements, got %v", counts)
	}
	if counts[model.TopicTagProfits] != 1 || counts[model.TopicTokenProfits] != 1 {
		t.Errorf("Expected rollup announcements only for the profitable trade, got %v", counts)
	}

	welcome := e.sink.byTopic(model.TopicWelcomeStats)[0]
	if welcome.Audience != model.AudiencePublic {
		t.Error("Welcome stats must go to every subscriber")
	}
	if e.sink.byTopic(model.TopicNewTrade)[0].Audience != model.AudienceAuthenticated {
		t.Error("Trades must only go to authenticated subscribers")
	}
	if e.sink.byTopic(model.TopicNewTrade)[0].Chain != "BSC" || e.sink.byTopic(model.TopicProfitUpdate)[0].Chain != "BSC" {
		t.Error("Per-chain messages must carry their chain")
	}
	if welcome.Chain != "" {
		t.Errorf("Welcome stats span every chain, got chain %q", welcome.Chain)
	}
}

// heldStore parks every window sum after it has been computed until release
// is closed.
type heldStore struct {
	*storage.MemoryRepository
	computed chan struct{}
	release  chan struct{}
}

func (s *heldStore) SumForWindow(ctx context.Context, chain string, start, end time.Time, upTo int64) (model.PeriodBucket, error) {
	b, err := s.MemoryRepository.SumForWindow(ctx, chain, start, end, upTo)
	s.computed <- struct{}{}
	<-s.release
	return b, err
}

func TestIngestDuringRebuildSurvivesSwap(t *testing.T) {
	held := &heldStore{
		MemoryRepository: storage.NewMemoryRepository(),
		computed:         make(chan struct{}, 6),
		release:          make(chan struct{}),
	}
	e := newEnv(t, noon, func(d *service.DashboardDeps) { d.Store = held })
	ctx := context.Background()

	if _, _, err := e.dash.Trades.CreateTrade(ctx, newTrade("0xOLD", 3, 4, noon.Add(-time.Hour))); err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}

	done := make(chan service.RebuildReport, 1)
	go func() { done <- e.dash.Scheduler.RunRebuild(ctx) }()
	for i := 0; i < 6; i++ {
		<-held.computed
	}

	if _, _, err := e.dash.Trades.CreateTrade(ctx, newTrade("0xA", 10, 12, noon)); err != nil {
		t.Fatalf("CreateTrade during rebuild failed: %v", err)
	}
	close(held.release)

	if report := <-done; len(report.Failed) != 0 {
		t.Fatalf("Unexpected rebuild failures: %v", report.Failed)
	}

	s, ok := e.dash.Cache.Summary("BSC")
	if !ok {
		t.Fatal("No summary for BSC")
	}
	for _, p := range []model.Period{model.PeriodToday, model.PeriodThisWeek, model.PeriodThisMonth} {
		if !s.Bucket(p).Equal(bucket(13, 16, 2)) {
			t.Errorf("%s: expected both trades counted once, got %+v", p, *s.Bucket(p))
		}
	}
	if !s.Yesterday.Equal(bucket(0, 0, 0)) {
		t.Errorf("Closed windows must not take live trades, got %+v", s.Yesterday)
	}

	// The next rebuild reads both rows and agrees.
	e.dash.Scheduler.RunRebuild(ctx)
	if again, _ := e.dash.Cache.Summary("BSC"); !again.SameBuckets(s) {
		t.Errorf("Expected the following rebuild to agree, got %+v want %+v", again, s)
	}
}

func TestRebuildTwiceConverges(t *testing.T) {
	e := newEnv(t, noon)
	ctx := context.Background()

	for i, at := range []time.Time{
		noon.Add(-time.Hour),
		noon.AddDate(0, 0, -1),
		noon.AddDate(0, 0, -8),
		noon.AddDate(0, -1, 0),
		noon.AddDate(0, -2, 0),
	} {
		if _, _, err := e.store.InsertTrade(ctx, newTrade(fmt.Sprintf("0x%d", i), int64(i+1), int64(2*i+1), at)); err != nil {
			t.Fatalf("Seeding store failed: %v", err)
		}
	}

	first := e.dash.Scheduler.RunRebuild(ctx)
	a := e.summary(t, "BSC")
	second := e.dash.Scheduler.RunRebuild(ctx)
	b := e.summary(t, "BSC")

	if len(first.Failed)+len(second.Failed) != 0 {
		t.Fatalf("Unexpected rebuild failures: %v / %v", first.Failed, second.Failed)
	}
	if !a.SameBuckets(b) {
		t.Errorf("Rebuilds over the same rows disagree: %+v vs %+v", a, b)
	}
	if a.LastMonth.Count == 0 || a.LastWeek.Count == 0 || a.Yesterday.Count == 0 {
		t.Errorf("Expected closed windows to be filled, got %+v", a)
	}
}

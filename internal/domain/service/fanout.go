package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) TradeIngested(string, model.IngestOutcome) {}
func (NopMetrics) RebuildFinished(string, error)            {}
func (NopMetrics) FanoutFailed(string)                      {}
func (NopMetrics) RetentionDeleted(int64)                   {}
func (NopMetrics) BufferedEvents(int, int)                  {}

type namedSink struct {
	name string
	sink useCases.Sink
}

// Fanout delivers messages to every registered sink. Delivery is fire-and-forget:
// a failing sink is logged and counted, never retried, and never affects the others.
type Fanout struct {
	log     *slog.Logger
	clock   clock.Clock
	metrics useCases.Metrics

	mu     sync.RWMutex
	sinks  []namedSink
	mirror repository.SummaryMirror
}

func NewFanout(log *slog.Logger, clk clock.Clock, metrics useCases.Metrics) *Fanout {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Fanout{
		log:     log.With(slog.String("component", "fanout")),
		clock:   clk,
		metrics: metrics,
	}
}

// AddSink registers a transport under a name used in logs and metrics.
func (f *Fanout) AddSink(name string, sink useCases.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
}

// SetMirror registers where summaries are copied after every change.
func (f *Fanout) SetMirror(mirror repository.SummaryMirror) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirror = mirror
}

func (f *Fanout) Publish(ctx context.Context, topic model.Topic, payload any, audience model.Audience) {
	msg := model.Message{
		Topic:     topic,
		Audience:  audience,
		Chain:     model.PayloadChain(payload),
		Payload:   payload,
		Timestamp: f.clock.Now(),
	}

	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, msg); err != nil {
			f.metrics.FanoutFailed(s.name)
			f.log.Warn("fanout delivery failed",
				slog.String("sink", s.name),
				slog.String("topic", string(topic)),
				sl.Err(err),
			)
		}
	}
}

// PublishSummary announces a chain's summary and refreshes its mirrored copy.
func (f *Fanout) PublishSummary(ctx context.Context, summary model.ChainProfitSummary) {
	f.Publish(ctx, model.TopicProfitUpdate, summary, model.AudienceAuthenticated)

	f.mu.RLock()
	mirror := f.mirror
	f.mu.RUnlock()
	if mirror == nil {
		return
	}
	if err := mirror.SaveSummary(ctx, summary); err != nil {
		f.metrics.FanoutFailed("mirror")
		f.log.Warn("summary mirror write failed", slog.String("chain", summary.Chain), sl.Err(err))
	}
}

package useCases

import (
	"context"
	"net/http"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// TradeService is the ingestion boundary for durably written events.
type TradeService interface {
	CreateTrade(ctx context.Context, trade model.Trade) (model.Trade, model.IngestOutcome, error)
	CreateWarning(ctx context.Context, warnType, msg, chain string) (model.Warning, error)
}

// Sink delivers fanout messages to one transport.
// Delivery is best-effort; an error is reported for logging only.
type Sink interface {
	Publish(ctx context.Context, msg model.Message) error
}

// Broadcaster is a Sink that also accepts subscriber connections.
type Broadcaster interface {
	Sink
	Handler() http.HandlerFunc
}

// TokenVerifier decides whether a presented token authenticates a subscriber.
type TokenVerifier interface {
	Verify(token string) bool
}

// Metrics receives counters from the ingestion, rebuild and fanout paths.
type Metrics interface {
	TradeIngested(chain string, outcome model.IngestOutcome)
	RebuildFinished(chain string, err error)
	FanoutFailed(sink string)
	RetentionDeleted(n int64)
	BufferedEvents(trades, warnings int)
}

package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// EventProcessor feeds trades from an in-process channel into the trade service.
type EventProcessor struct {
	TradeCh chan *dto.TradeDTO
	Trades  useCases.TradeService
	log     *slog.Logger
}

func NewEventProcessor(log *slog.Logger, tradeCh chan *dto.TradeDTO, trades useCases.TradeService) *EventProcessor {
	return &EventProcessor{
		TradeCh: tradeCh,
		Trades:  trades,
		log:     log.With(slog.String("component", "event_processor")),
	}
}

// Run consumes the channel until ctx is done or the channel is closed.
func (p *EventProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-p.TradeCh:
			if !ok {
				return nil
			}
			if err := p.processTrade(ctx, trade); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Other errors are just logged but processing continues
				p.log.Warn("trade not ingested", slog.String("hash", trade.Hash), sl.Err(err))
			}
		}
	}
}

func (p *EventProcessor) processTrade(ctx context.Context, trade *dto.TradeDTO) error {
	if trade == nil {
		return nil
	}
	_, outcome, err := p.Trades.CreateTrade(ctx, trade.ToModel())
	if err != nil {
		return err
	}
	if outcome == model.DuplicateNoOp {
		p.log.Debug("duplicate trade", slog.String("hash", trade.Hash))
	}
	return nil
}

// retryable reports whether a failed trade may succeed if offered again.
func retryable(err error) bool {
	return errors.Is(err, model.ErrPersistenceUnavailable)
}

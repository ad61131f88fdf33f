package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/infrastructure/queue"
)

// TradePusher publishes generated or replayed trades to a dashboard.
type TradePusher struct {
	Producer queue.TradeProducer
	log      *slog.Logger
}

func NewTradePusher(log *slog.Logger, producer queue.TradeProducer) *TradePusher {
	return &TradePusher{
		Producer: producer,
		log:      log.With(slog.String("component", "trade_pusher")),
	}
}

// Execute publishes every trade and stops at the first failure.
func (uc *TradePusher) Execute(ctx context.Context, trades []model.Trade) (int, error) {
	for i, t := range trades {
		if err := uc.Producer.PublishTrade(ctx, dto.FromModel(t)); err != nil {
			uc.log.Error("failed to publish trade", slog.String("hash", t.Hash), slog.String("error", err.Error()))
			return i, err
		}
	}
	return len(trades), nil
}

// HTTPProducer is a TradeProducer that POSTs to a dashboard's /trade route.
type HTTPProducer struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ queue.TradeProducer = (*HTTPProducer)(nil)

func NewHTTPProducer(baseURL, token string) *HTTPProducer {
	return &HTTPProducer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProducer) PublishTrade(ctx context.Context, trade *dto.TradeDTO) error {
	body, err := sonnet.Marshal(trade)
	if err != nil {
		return fmt.Errorf("encode trade %s: %w", trade.Hash, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/trade", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST /trade: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func (p *HTTPProducer) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

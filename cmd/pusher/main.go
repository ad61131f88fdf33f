// Command pusher feeds random trades into a dashboard, either over Kafka or
// straight to its POST /trade route.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessson/mev-dashboard/config"
	"github.com/jessson/mev-dashboard/internal/app"
	"github.com/jessson/mev-dashboard/internal/infrastructure/queue"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
	"github.com/jessson/mev-dashboard/pkg/utils"
)

func main() {
	mode := flag.String("mode", "http", "transport: http or kafka")
	target := flag.String("url", "http://localhost:8080", "dashboard base URL for http mode")
	token := flag.String("token", os.Getenv("AUTH_TOKEN"), "bearer token for http mode")
	chains := flag.String("chains", "BSC,ETH", "comma separated chains to generate trades for")
	batch := flag.Int("batch", 10, "trades per tick")
	interval := flag.Duration("interval", time.Second, "time between batches")
	total := flag.Int("total", 0, "stop after this many trades, 0 runs until interrupted")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	producer, err := newProducer(*mode, *target, *token, config.LoadConfig())
	if err != nil {
		log.Error("cannot create producer", sl.Err(err))
		os.Exit(2)
	}
	defer producer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pusher := app.NewTradePusher(log, producer)
	gen := utils.NewTradeGenerator(splitChains(*chains)...)

	sent, err := run(ctx, pusher, gen, *batch, *interval, *total)
	if err != nil && ctx.Err() == nil {
		log.Error("push failed", slog.Int("sent", sent), sl.Err(err))
		os.Exit(1)
	}
	log.Info("pusher stopped", slog.Int("sent", sent))
}

func newProducer(mode, url, token string, cfg *config.Config) (queue.TradeProducer, error) {
	switch mode {
	case "http":
		return app.NewHTTPProducer(url, token), nil
	case "kafka":
		return queue.NewKafkaProducer(queue.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// run publishes batches until total trades went out or ctx ends.
func run(ctx context.Context, pusher *app.TradePusher, gen *utils.TradeGenerator, batch int, interval time.Duration, total int) (int, error) {
	sent := 0
	for {
		n := batch
		if total > 0 {
			n = min(n, total-sent)
		}
		published, err := pusher.Execute(ctx, gen.GenerateTrades(n))
		sent += published
		if err != nil {
			return sent, err
		}
		if total > 0 && sent >= total {
			return sent, nil
		}

		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func splitChains(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

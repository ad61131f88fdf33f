package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessson/mev-dashboard/config"
	"github.com/jessson/mev-dashboard/internal/app"
	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
	"github.com/jessson/mev-dashboard/pkg/utils"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	demo := flag.Bool("demo", false, "feed randomly generated trades into the dashboard")
	flag.Parse()

	cfg := config.LoadConfig()
	log := setupLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("initializing app", slog.String("env", cfg.Env))
	application, err := app.NewApp(ctx, log, cfg)
	if err != nil {
		log.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	// Readiness comes before the listener: no request sees a half-loaded cache.
	if err := application.Init(ctx); err != nil {
		log.Error("failed to load aggregation state", sl.Err(err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for _, p := range application.Processors {
		wg.Add(1)
		go func(p app.Processor) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event processor stopped", sl.Err(err))
			}
		}(p)
	}

	if *demo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDemo(ctx, log, application.TradeCh, cfg.Chains)
		}()
	}

	go func() {
		log.Info("HTTP server listening", slog.String("addr", ":"+cfg.HTTPPort))
		if err := application.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := application.HTTPServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", sl.Err(err))
	}

	wg.Wait()
	application.Cleanup(shutdownCtx)

	log.Info("service stopped")
}

// runDemo pushes a small batch of random trades every second until ctx ends.
func runDemo(ctx context.Context, log *slog.Logger, tradeCh chan<- *dto.TradeDTO, chains []string) {
	gen := utils.NewTradeGenerator(chains...)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info("demo trade generator started")
	for {
		select {
		case <-ctx.Done():
			log.Info("demo trade generator stopped")
			return
		case <-ticker.C:
			for _, t := range gen.GenerateTrades(5) {
				select {
				case tradeCh <- dto.FromModel(t):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

package storage

import (
	"context"
	"fmt"

	"github.com/jessson/mev-dashboard/internal/domain/repository"
)

const (
	DriverMemory     = "memory"
	DriverClickHouse = "clickhouse"
)

// Store is a TradePersistence that can be health-checked and closed.
type Store interface {
	repository.TradePersistence
	Health(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	ClickHouse  ClickHouseConfig
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryRepository(), nil
	case DriverSQLite, "sqlite", "":
		return NewSQLRepository(ctx, DriverSQLite, cfg.SQLitePath)
	case DriverPostgres:
		return NewSQLRepository(ctx, DriverPostgres, cfg.PostgresDSN)
	case DriverClickHouse:
		return NewClickHouseRepository(cfg.ClickHouse)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
)

// ClickHouseRepository implements TradePersistence using ClickHouse as the backend
// database. Trades land in a MergeTree table ordered by (chain, created_at) so the
// window sums scan one contiguous range per chain.
type ClickHouseRepository struct {
	conn   driver.Conn
	lastID atomic.Int64
}

type ClickHouseConfig struct {
	Addr     string
	Username string
	Password string
	Timeout  int
}

func NewClickHouseRepository(cfg ClickHouseConfig) (*ClickHouseRepository, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: time.Duration(cfg.Timeout) * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, unavailable("open clickhouse", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, unavailable("ping clickhouse", err)
	}

	if err := createClickHouseTables(conn); err != nil {
		return nil, unavailable("create clickhouse tables", err)
	}

	r := &ClickHouseRepository{conn: conn}
	maxID, err := r.MaxTradeID(context.Background())
	if err != nil {
		return nil, err
	}
	r.lastID.Store(maxID)
	return r, nil
}

var _ repository.TradePersistence = (*ClickHouseRepository)(nil)

func createClickHouseTables(conn driver.Conn) error {
	return conn.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS trade_info (
			id Int64,
			chain LowCardinality(String),
			builder String,
			hash String,
			vic_hashes Array(String),
			gross Decimal(38, 18),
			bribe Decimal(38, 18),
			income Decimal(38, 18),
			ratio Decimal(38, 18),
			ordinal UInt64,
			extra_info String,
			tags Array(String),
			token_addrs Array(String),
			token_symbols Array(String),
			created_at DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (chain, created_at)
	`)
}

const clickHouseTradeColumns = `id, chain, builder, hash, vic_hashes, gross, bribe, income, ratio,
	ordinal, extra_info, tags, token_addrs, token_symbols, created_at`


// InsertTrade stores the trade unless a row with the same hash exists.
func (r *ClickHouseRepository) InsertTrade(ctx context.Context, trade model.Trade) (model.Trade, bool, error) {
	existing, found, err := r.findByHash(ctx, trade.Hash)
	if err != nil {
		return model.Trade{}, false, err
	}
	if found {
		return existing, true, nil
	}

	// ClickHouse has no sequences; ids come from a process-local counter
	// seeded with the table maximum at open.
	trade.ID = r.lastID.Add(1)
	addrs, symbols := splitTokens(trade.Tokens)
	err = r.conn.Exec(ctx, `INSERT INTO trade_info (`+clickHouseTradeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID,
		trade.Chain,
		trade.Builder,
		trade.Hash,
		nonNil(trade.CounterpartyHashes),
		trade.Gross,
		trade.Bribe,
		trade.Income,
		trade.Ratio,
		trade.Ordinal,
		trade.ExtraInfo,
		nonNil(trade.Tags),
		addrs,
		symbols,
		trade.CreatedAt,
	)
	if err != nil {
		return model.Trade{}, false, unavailable("insert trade", err)
	}
	return trade, false, nil
}

func (r *ClickHouseRepository) findByHash(ctx context.Context, hash string) (model.Trade, bool, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+clickHouseTradeColumns+` FROM trade_info WHERE hash = ? LIMIT 1`, hash)
	if err != nil {
		return model.Trade{}, false, unavailable("find trade", err)
	}
	defer rows.Close()

	trades, err := scanClickHouseTrades(rows)
	if err != nil {
		return model.Trade{}, false, err
	}
	if len(trades) == 0 {
		return model.Trade{}, false, nil
	}
	return trades[0], true, nil
}

// SumForWindow aggregates a chain's trades in [start, end) with id <= upTo.
func (r *ClickHouseRepository) SumForWindow(ctx context.Context, chain string, start, end time.Time, upTo int64) (model.PeriodBucket, error) {
	var (
		income, gross decimal.Decimal
		count         uint64
	)
	row := r.conn.QueryRow(ctx, `
		SELECT sum(income), sum(gross), count()
		FROM trade_info
		WHERE chain = ? AND created_at >= ? AND created_at < ? AND id <= ?
	`, chain, start, end, upTo)
	if err := row.Scan(&income, &gross, &count); err != nil {
		return model.PeriodBucket{}, unavailable("sum window", err)
	}
	return model.PeriodBucket{Income: income, Gross: gross, Count: count}, nil
}

func (r *ClickHouseRepository) MaxTradeID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.conn.QueryRow(ctx, `SELECT max(id) FROM trade_info`).Scan(&id); err != nil {
		return 0, unavailable("max trade id", err)
	}
	return id, nil
}

// FindTradesSince returns a chain's trades created at or after since, oldest first.
func (r *ClickHouseRepository) FindTradesSince(ctx context.Context, chain string, since time.Time) ([]model.Trade, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+clickHouseTradeColumns+`
		FROM trade_info
		WHERE chain = ? AND created_at >= ?
		ORDER BY created_at, id
	`, chain, since)
	if err != nil {
		return nil, unavailable("find trades", err)
	}
	defer rows.Close()
	return scanClickHouseTrades(rows)
}

// DeleteOlderThan issues a mutation removing trades created before cutoff.
// The count is taken before the mutation since ClickHouse does not report it.
func (r *ClickHouseRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n uint64
	if err := r.conn.QueryRow(ctx, `SELECT count() FROM trade_info WHERE created_at < ?`, cutoff).Scan(&n); err != nil {
		return 0, unavailable("count expired trades", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := r.conn.Exec(ctx, `ALTER TABLE trade_info DELETE WHERE created_at < ?`, cutoff); err != nil {
		return 0, unavailable("delete expired trades", err)
	}
	return int64(n), nil
}

func (r *ClickHouseRepository) Health(ctx context.Context) error {
	if err := r.conn.Ping(ctx); err != nil {
		return unavailable("ping clickhouse", err)
	}
	return nil
}

func (r *ClickHouseRepository) Close() error {
	return r.conn.Close()
}

func scanClickHouseTrades(rows driver.Rows) ([]model.Trade, error) {
	results := make([]model.Trade, 0)
	for rows.Next() {
		var (
			t       model.Trade
			addrs   []string
			symbols []string
		)
		if err := rows.Scan(
			&t.ID,
			&t.Chain,
			&t.Builder,
			&t.Hash,
			&t.CounterpartyHashes,
			&t.Gross,
			&t.Bribe,
			&t.Income,
			&t.Ratio,
			&t.Ordinal,
			&t.ExtraInfo,
			&t.Tags,
			&addrs,
			&symbols,
			&t.CreatedAt,
		); err != nil {
			return nil, unavailable("scan trade", err)
		}
		t.Tokens = joinTokens(addrs, symbols)
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate trades", err)
	}
	return results, nil
}

func splitTokens(tokens []model.TokenRef) (addrs, symbols []string) {
	addrs = make([]string, len(tokens))
	symbols = make([]string, len(tokens))
	for i, tok := range tokens {
		addrs[i] = tok.Address
		symbols[i] = tok.Symbol
	}
	return addrs, symbols
}

func joinTokens(addrs, symbols []string) []model.TokenRef {
	tokens := make([]model.TokenRef, len(addrs))
	for i, addr := range addrs {
		tokens[i].Address = addr
		if i < len(symbols) {
			tokens[i].Symbol = symbols[i]
		}
	}
	return tokens
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistenceUnavailable, err)
}

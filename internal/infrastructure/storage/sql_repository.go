package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLRepository implements TradePersistence on database/sql. It speaks both
// Postgres and SQLite; the unique hash constraint is the duplicate detector.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ repository.TradePersistence = (*SQLRepository)(nil)

// NewSQLRepository opens dsn with driver and creates the schema if needed.
func NewSQLRepository(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open "+driver, err)
	}
	if driver == DriverSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY under concurrent inserts.
		db.SetMaxOpenConns(1)
	}

	r := &SQLRepository{db: db, driver: driver}
	if err := r.Health(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	money := "TEXT"
	if r.driver == DriverPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
		money = "NUMERIC(78, 18)"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_info (
			` + idColumn + `,
			chain TEXT NOT NULL,
			builder TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			vic_hashes TEXT NOT NULL DEFAULT '[]',
			gross ` + money + ` NOT NULL,
			bribe ` + money + ` NOT NULL,
			income ` + money + ` NOT NULL,
			ratio ` + money + ` NOT NULL,
			ordinal BIGINT NOT NULL DEFAULT 0,
			extra_info TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			inc_tokens TEXT NOT NULL DEFAULT '[]',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_info_chain_created ON trade_info (chain, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("migrate", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for Postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const sqlTradeColumns = `id, chain, builder, hash, vic_hashes, gross, bribe, income, ratio,
	ordinal, extra_info, tags, inc_tokens, created_at`

// InsertTrade inserts the trade or, when the hash is taken, returns the stored row.
func (r *SQLRepository) InsertTrade(ctx context.Context, trade model.Trade) (model.Trade, bool, error) {
	vic, err := sonnet.Marshal(nonNil(trade.CounterpartyHashes))
	if err != nil {
		return model.Trade{}, false, fmt.Errorf("encode vicHashes: %w", err)
	}
	tags, err := sonnet.Marshal(nonNil(trade.Tags))
	if err != nil {
		return model.Trade{}, false, fmt.Errorf("encode tags: %w", err)
	}
	tokens := trade.Tokens
	if tokens == nil {
		tokens = []model.TokenRef{}
	}
	inc, err := sonnet.Marshal(tokens)
	if err != nil {
		return model.Trade{}, false, fmt.Errorf("encode incTokens: %w", err)
	}

	query := r.rebind(`INSERT INTO trade_info (chain, builder, hash, vic_hashes, gross, bribe, income, ratio,
		ordinal, extra_info, tags, inc_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING
		RETURNING id`)

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		trade.Chain,
		trade.Builder,
		trade.Hash,
		string(vic),
		trade.Gross.String(),
		trade.Bribe.String(),
		trade.Income.String(),
		trade.Ratio.String(),
		int64(trade.Ordinal),
		trade.ExtraInfo,
		string(tags),
		string(inc),
		trade.CreatedAt.UnixMilli(),
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.findByHash(ctx, trade.Hash)
		if err != nil {
			return model.Trade{}, false, err
		}
		return existing, true, nil
	case err != nil:
		return model.Trade{}, false, unavailable("insert trade", err)
	}

	trade.ID = id
	trade.CreatedAt = time.UnixMilli(trade.CreatedAt.UnixMilli())
	return trade, false, nil
}

func (r *SQLRepository) findByHash(ctx context.Context, hash string) (model.Trade, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+sqlTradeColumns+` FROM trade_info WHERE hash = ?`), hash)
	if err != nil {
		return model.Trade{}, unavailable("find trade", err)
	}
	defer rows.Close()

	trades, err := scanSQLTrades(rows)
	if err != nil {
		return model.Trade{}, err
	}
	if len(trades) == 0 {
		return model.Trade{}, fmt.Errorf("trade %s: %w", hash, model.ErrNotFound)
	}
	return trades[0], nil
}

// SumForWindow aggregates a chain's trades in [start, end) with id <= upTo.
// SQLite keeps money as text, so its rows are summed here to stay exact.
func (r *SQLRepository) SumForWindow(ctx context.Context, chain string, start, end time.Time, upTo int64) (model.PeriodBucket, error) {
	if r.driver == DriverPostgres {
		var b model.PeriodBucket
		var count int64
		err := r.db.QueryRowContext(ctx, r.rebind(`
			SELECT COALESCE(SUM(income), 0), COALESCE(SUM(gross), 0), COUNT(*)
			FROM trade_info
			WHERE chain = ? AND created_at >= ? AND created_at < ? AND id <= ?`),
			chain, start.UnixMilli(), end.UnixMilli(), upTo,
		).Scan(&b.Income, &b.Gross, &count)
		if err != nil {
			return model.PeriodBucket{}, unavailable("sum window", err)
		}
		b.Count = uint64(count)
		return b, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT income, gross
		FROM trade_info
		WHERE chain = ? AND created_at >= ? AND created_at < ? AND id <= ?`,
		chain, start.UnixMilli(), end.UnixMilli(), upTo,
	)
	if err != nil {
		return model.PeriodBucket{}, unavailable("sum window", err)
	}
	defer rows.Close()

	var b model.PeriodBucket
	for rows.Next() {
		var income, gross decimal.Decimal
		if err := rows.Scan(&income, &gross); err != nil {
			return model.PeriodBucket{}, unavailable("scan window row", err)
		}
		b.Add(income, gross)
	}
	if err := rows.Err(); err != nil {
		return model.PeriodBucket{}, unavailable("iterate window rows", err)
	}
	return b, nil
}

func (r *SQLRepository) MaxTradeID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM trade_info`).Scan(&id); err != nil {
		return 0, unavailable("max trade id", err)
	}
	return id, nil
}

// FindTradesSince returns a chain's trades created at or after since, oldest first.
func (r *SQLRepository) FindTradesSince(ctx context.Context, chain string, since time.Time) ([]model.Trade, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+sqlTradeColumns+`
		FROM trade_info
		WHERE chain = ? AND created_at >= ?
		ORDER BY created_at, id`),
		chain, since.UnixMilli(),
	)
	if err != nil {
		return nil, unavailable("find trades", err)
	}
	defer rows.Close()
	return scanSQLTrades(rows)
}

func (r *SQLRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM trade_info WHERE created_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, unavailable("delete expired trades", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete expired trades", err)
	}
	return n, nil
}

func (r *SQLRepository) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return unavailable("ping "+r.driver, err)
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func scanSQLTrades(rows *sql.Rows) ([]model.Trade, error) {
	results := make([]model.Trade, 0)
	for rows.Next() {
		var (
			t                model.Trade
			vic, tags, inc   string
			ordinal, created int64
		)
		if err := rows.Scan(
			&t.ID,
			&t.Chain,
			&t.Builder,
			&t.Hash,
			&vic,
			&t.Gross,
			&t.Bribe,
			&t.Income,
			&t.Ratio,
			&ordinal,
			&t.ExtraInfo,
			&tags,
			&inc,
			&created,
		); err != nil {
			return nil, unavailable("scan trade", err)
		}
		if err := sonnet.Unmarshal([]byte(vic), &t.CounterpartyHashes); err != nil {
			return nil, fmt.Errorf("decode vicHashes of %s: %w", t.Hash, err)
		}
		if err := sonnet.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", t.Hash, err)
		}
		if err := sonnet.Unmarshal([]byte(inc), &t.Tokens); err != nil {
			return nil, fmt.Errorf("decode incTokens of %s: %w", t.Hash, err)
		}
		t.Ordinal = uint64(ordinal)
		t.CreatedAt = time.UnixMilli(created)
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate trades", err)
	}
	return results, nil
}

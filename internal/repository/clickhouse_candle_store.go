package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	pkgch "SignalFuse/pkg/clickhouse"
	applogger "SignalFuse/pkg/logger"
)

// ClickHouseSchema creates the candle table. Replacing on (symbol, interval,
// open_time) makes re-inserting a bar idempotent.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles (
			symbol LowCardinality(String),
			interval LowCardinality(String),
			open_time DateTime64(3, 'UTC'),
			close_time DateTime64(3, 'UTC'),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			inserted_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(inserted_at)
		ORDER BY (symbol, interval, open_time)`, database),
	}
}

// CHCandleStore implements CandleStore backed by ClickHouse.
type CHCandleStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHCandleStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHCandleStore{ch: ch, db: ch.DB(), table: database + ".candles", l: l}
}

// StoreCandles inserts closed bars; open bars are skipped.
func (s *CHCandleStore) StoreCandles(ctx context.Context, candles []models.Candle) error {
	rows := make([][]any, 0, len(candles))
	for _, c := range candles {
		if !c.Closed || c.Symbol == "" {
			continue
		}
		rows = append(rows, []any{c.Symbol, c.Interval, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume})
	}
	if len(rows) == 0 {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO %s (symbol, interval, open_time, close_time, open, high, low, close, volume)`, s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse store_candles error", applogger.Int("rows", len(rows)), applogger.Error(err))
		return fmt.Errorf("store candles: %w", err)
	}
	return nil
}

// LatestCandles returns up to n closed bars in ascending time order.
func (s *CHCandleStore) LatestCandles(ctx context.Context, symbol string, interval domrepo.Interval, n int) ([]models.Candle, error) {
	start := time.Now()
	const qtpl = `
        SELECT symbol, interval, open_time, close_time, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND interval = ?
        ORDER BY open_time DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, string(interval), n)
	if err != nil {
		s.l.Error("clickhouse latest_candles query error",
			applogger.String("symbol", symbol),
			applogger.String("interval", string(interval)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("latest candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Candle, 0, n)
	for rows.Next() {
		c := models.Candle{Closed: true}
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		tmp = append(tmp, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("symbol", symbol),
		applogger.String("interval", string(interval)),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

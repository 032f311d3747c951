package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"SignalFuse/internal/domain/models"
	applogger "SignalFuse/pkg/logger"
)

// PostgresMigrations creates the decision, trade and performance tables.
var PostgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS bot_decisions (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		symbol TEXT NOT NULL,
		decision TEXT NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL,
		lstm_signal TEXT,
		xgb_signal TEXT,
		technical_signal TEXT,
		rl_decision TEXT,
		sentiment_score DOUBLE PRECISION,
		liquidity_score DOUBLE PRECISION,
		gpt_decision TEXT,
		gpt_confidence DOUBLE PRECISION,
		gpt_reason TEXT,
		executed BOOLEAN NOT NULL DEFAULT FALSE,
		decision_result TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_decisions_symbol_ts ON bot_decisions(symbol, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_decisions_result ON bot_decisions(decision_result)`,

	`CREATE TABLE IF NOT EXISTS closed_trades (
		id BIGSERIAL PRIMARY KEY,
		trade_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		duration_minutes INT NOT NULL,
		exit_reason TEXT NOT NULL,
		entry_state TEXT,
		exit_state TEXT,
		opened_at TIMESTAMPTZ NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol_ts ON closed_trades(symbol, timestamp)`,

	`CREATE TABLE IF NOT EXISTS performance_metrics (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		total_trades INT NOT NULL,
		total_profit DOUBLE PRECISION NOT NULL,
		total_loss DOUBLE PRECISION NOT NULL,
		win_rate DOUBLE PRECISION NOT NULL,
		report_type TEXT NOT NULL
	)`,
}

// PgxDB is the subset of *pgxpool.Pool the store uses.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements DecisionStore, TradeStore and PerformanceStore.
type PostgresStore struct {
	db PgxDB
	l  *applogger.Logger
}

func NewPostgresStore(db PgxDB, l *applogger.Logger) *PostgresStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &PostgresStore{db: db, l: l}
}

func (s *PostgresStore) SaveDecision(ctx context.Context, rec *models.DecisionRecord) error {
	const q = `
		INSERT INTO bot_decisions (
			timestamp, symbol, decision, confidence_score, lstm_signal, xgb_signal,
			technical_signal, rl_decision, sentiment_score, liquidity_score,
			gpt_decision, gpt_confidence, gpt_reason, executed, decision_result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, q,
		rec.Timestamp, rec.Symbol, string(rec.Action), rec.Confidence, rec.LSTM, rec.XGB,
		rec.Technical, rec.RL, rec.Sentiment, rec.Liquidity,
		rec.AdvisorAction, rec.AdvisorConfidence, rec.AdvisorReason, rec.Executed, nullable(rec.Result),
	).Scan(&rec.ID)
	if err != nil {
		s.l.Error("postgres save_decision failed", applogger.String("symbol", rec.Symbol), applogger.Error(err))
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, since time.Time) ([]models.DecisionRecord, error) {
	const q = `
		SELECT id, timestamp, symbol, decision, confidence_score,
		       COALESCE(lstm_signal, ''), COALESCE(xgb_signal, ''), COALESCE(technical_signal, ''),
		       COALESCE(rl_decision, ''), COALESCE(sentiment_score, 0), COALESCE(liquidity_score, 1),
		       COALESCE(gpt_decision, ''), COALESCE(gpt_confidence, 0), COALESCE(gpt_reason, ''),
		       executed, COALESCE(decision_result, '')
		FROM bot_decisions
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var r models.DecisionRecord
		var action string
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.Symbol, &action, &r.Confidence,
			&r.LSTM, &r.XGB, &r.Technical, &r.RL, &r.Sentiment, &r.Liquidity,
			&r.AdvisorAction, &r.AdvisorConfidence, &r.AdvisorReason,
			&r.Executed, &r.Result,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Action = models.Action(action)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateDecisionResult(ctx context.Context, id int64, result string) error {
	tag, err := s.db.Exec(ctx, `UPDATE bot_decisions SET decision_result = $2 WHERE id = $1`, id, result)
	if err != nil {
		return fmt.Errorf("update decision result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update decision result: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SaveClosedTrade(ctx context.Context, t *models.ClosedTrade) error {
	const q = `
		INSERT INTO closed_trades (
			trade_id, symbol, direction, entry_price, exit_price, quantity, pnl,
			duration_minutes, exit_reason, entry_state, exit_state, opened_at, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING
	`
	_, err := s.db.Exec(ctx, q,
		t.ID, t.Symbol, string(t.Direction), t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL,
		int(t.Duration.Minutes()), t.ExitReason, t.EntryState.String(), t.ExitState.String(),
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		s.l.Error("postgres save_closed_trade failed", applogger.String("trade_id", t.ID), applogger.Error(err))
		return fmt.Errorf("save closed trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClosedTrades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error) {
	const q = `
		SELECT trade_id, symbol, direction, entry_price, exit_price, quantity, pnl,
		       duration_minutes, exit_reason, COALESCE(entry_state, ''), COALESCE(exit_state, ''),
		       opened_at, timestamp
		FROM closed_trades
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	defer rows.Close()

	var out []models.ClosedTrade
	for rows.Next() {
		var t models.ClosedTrade
		var direction, entryState, exitState string
		var minutes int
		if err := rows.Scan(
			&t.ID, &t.Symbol, &direction, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL,
			&minutes, &t.ExitReason, &entryState, &exitState, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.Direction = models.Action(direction)
		t.Duration = time.Duration(minutes) * time.Minute
		t.EntryState = parseState(entryState)
		t.ExitState = parseState(exitState)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SavePerformance(ctx context.Context, r *models.PerformanceReport) error {
	const q = `
		INSERT INTO performance_metrics (timestamp, total_trades, total_profit, total_loss, win_rate, report_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.Exec(ctx, q, r.Timestamp, r.TotalTrades, r.TotalProfit, r.TotalLoss, r.WinRate, r.ReportType); err != nil {
		return fmt.Errorf("save performance: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseState(s string) models.StateKey {
	k, err := models.ParseStateKey(s)
	if err != nil {
		return models.DefaultState
	}
	return k
}

// ErrNotFound is returned when an update matches no row.
var ErrNotFound = errors.New("record not found")

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schema is shared by the SQLite and Postgres journals. Times are stored as
// RFC3339 text so both drivers read them back the same way.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	cycle TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	units DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	take_profit DOUBLE PRECISION,
	open_time TEXT NOT NULL,
	close_time TEXT,
	realized_pl DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL,
	client_tag TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time TEXT NOT NULL,
	balance DOUBLE PRECISION NOT NULL,
	equity DOUBLE PRECISION NOT NULL,
	unrealized_pl DOUBLE PRECISION NOT NULL,
	open_positions INTEGER NOT NULL,
	drawdown DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	outcome TEXT NOT NULL,
	degraded INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_start ON cycles(start_time);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqlStore implements Journal and Store over database/sql. Queries are
// written with ? placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(t), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func (s *sqlStore) RecordTrade(ctx context.Context, t TradeRecord) error {
	exit := sql.NullFloat64{}
	if t.Closed() {
		exit = sql.NullFloat64{Float64: t.ExitPrice, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO trades
		(trade_id, cycle, symbol, direction, units, entry_price, exit_price, stop_loss, take_profit,
		 open_time, close_time, realized_pl, reason, client_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			exit_price = excluded.exit_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			close_time = excluded.close_time,
			realized_pl = excluded.realized_pl,
			reason = excluded.reason`),
		t.TradeID, t.Cycle, t.Symbol, t.Direction, t.Units, t.EntryPrice, exit,
		nullFloat(t.StopLoss), nullFloat(t.TakeProfit),
		fmtTime(t.OpenTime), nullTime(t.CloseTime), t.RealizedPL, t.Reason, t.ClientTag,
	)
	if err != nil {
		return fmt.Errorf("journal: record trade %s: %w", t.TradeID, err)
	}
	return nil
}

func (s *sqlStore) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO equity (time, balance, equity, unrealized_pl, open_positions, drawdown)
		VALUES (?, ?, ?, ?, ?, ?)`),
		fmtTime(e.Time), e.Balance, e.Equity, e.UnrealizedPL, e.OpenPositions, e.Drawdown,
	)
	if err != nil {
		return fmt.Errorf("journal: record equity: %w", err)
	}
	return nil
}

func (s *sqlStore) RecordCycle(ctx context.Context, c CycleEntry) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	degraded := 0
	if c.Degraded {
		degraded = 1
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO cycles (id, start_time, outcome, degraded, payload)
		VALUES (?, ?, ?, ?, ?)`),
		c.ID, fmtTime(c.Start), c.Outcome, degraded, string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal: record cycle %s: %w", c.ID, err)
	}
	return nil
}

const tradeColumns = `trade_id, cycle, symbol, direction, units, entry_price, exit_price, stop_loss, take_profit,
	open_time, close_time, realized_pl, reason, client_tag`

func scanTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()
	var out []TradeRecord
	for rows.Next() {
		var (
			t            TradeRecord
			exit, sl, tp sql.NullFloat64
			openTime     string
			closeTime    sql.NullString
		)
		if err := rows.Scan(&t.TradeID, &t.Cycle, &t.Symbol, &t.Direction, &t.Units, &t.EntryPrice,
			&exit, &sl, &tp, &openTime, &closeTime, &t.RealizedPL, &t.Reason, &t.ClientTag); err != nil {
			return nil, err
		}
		var err error
		if t.OpenTime, err = parseTime(openTime); err != nil {
			return nil, fmt.Errorf("journal: trade %s open_time: %w", t.TradeID, err)
		}
		if closeTime.Valid {
			if t.CloseTime, err = parseTime(closeTime.String); err != nil {
				return nil, fmt.Errorf("journal: trade %s close_time: %w", t.TradeID, err)
			}
		}
		t.ExitPrice = exit.Float64
		if sl.Valid {
			v := sl.Float64
			t.StopLoss = &v
		}
		if tp.Valid {
			v := tp.Float64
			t.TakeProfit = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE close_time IS NULL ORDER BY open_time, trade_id`)
	if err != nil {
		return nil, fmt.Errorf("journal: open trades: %w", err)
	}
	return scanTrades(rows)
}

func (s *sqlStore) Trades(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+tradeColumns+` FROM trades
		WHERE close_time IS NOT NULL AND close_time >= ? AND close_time < ?
		ORDER BY close_time, trade_id`), fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("journal: trades: %w", err)
	}
	return scanTrades(rows)
}

func (s *sqlStore) LastEquity(ctx context.Context) (EquitySnapshot, bool, error) {
	var (
		e  EquitySnapshot
		ts string
	)
	err := s.db.QueryRowContext(ctx, `SELECT time, balance, equity, unrealized_pl, open_positions, drawdown
		FROM equity ORDER BY time DESC LIMIT 1`).
		Scan(&ts, &e.Balance, &e.Equity, &e.UnrealizedPL, &e.OpenPositions, &e.Drawdown)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, false, nil
	}
	if err != nil {
		return EquitySnapshot{}, false, fmt.Errorf("journal: last equity: %w", err)
	}
	if e.Time, err = parseTime(ts); err != nil {
		return EquitySnapshot{}, false, err
	}
	return e, true, nil
}

func (s *sqlStore) Cycles(ctx context.Context, limit int) ([]CycleEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT payload FROM cycles ORDER BY start_time DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("journal: cycles: %w", err)
	}
	defer rows.Close()
	var out []CycleEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c CycleEntry
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("journal: decode cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error { return s.db.Close() }

// Package pnl persists realized profit and loss as an append-only ledger
// and answers fixed trailing-window sums over it. Amounts are stored as
// exact decimal strings; float arithmetic never touches persisted money.
package pnl

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS realized_pnl (
	id           TEXT PRIMARY KEY,
	ts           INTEGER NOT NULL,
	realized_usd TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_realized_pnl_ts ON realized_pnl (ts);
`

// Ledger is the append-only PnL store. Safe for concurrent use; all writes
// go through the database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open pnl ledger")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate pnl ledger")
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append records one realized PnL event. Negative amounts are losses.
func (l *Ledger) Append(ctx context.Context, realizedUSD decimal.Decimal) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO realized_pnl (id, ts, realized_usd) VALUES (?, ?, ?)`,
		uuid.NewString(), l.now().Unix(), realizedUSD.String(),
	)
	return errors.Wrap(err, "append realized pnl")
}

// WindowSum sums realized PnL over the trailing window ending now.
func (l *Ledger) WindowSum(ctx context.Context, window time.Duration) (decimal.Decimal, error) {
	cutoff := l.now().Add(-window).Unix()
	rows, err := l.db.QueryContext(ctx,
		`SELECT realized_usd FROM realized_pnl WHERE ts >= ?`, cutoff)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query pnl window")
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, errors.Wrap(err, "scan pnl row")
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "corrupt pnl amount %q", raw)
		}
		sum = sum.Add(d)
	}
	return sum, errors.Wrap(rows.Err(), "iterate pnl window")
}

// Windows is the rolling report the status surfaces render.
type Windows struct {
	H1 decimal.Decimal `json:"pnl_1h"`
	H4 decimal.Decimal `json:"pnl_4h"`
	D1 decimal.Decimal `json:"pnl_24h"`
}

// Report computes the standard 1h/4h/24h trailing sums.
func (l *Ledger) Report(ctx context.Context) (Windows, error) {
	var w Windows
	var err error
	if w.H1, err = l.WindowSum(ctx, time.Hour); err != nil {
		return w, err
	}
	if w.H4, err = l.WindowSum(ctx, 4*time.Hour); err != nil {
		return w, err
	}
	if w.D1, err = l.WindowSum(ctx, 24*time.Hour); err != nil {
		return w, err
	}
	return w, nil
}

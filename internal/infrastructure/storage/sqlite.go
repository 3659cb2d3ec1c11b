package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/trade_controller/internal/domain"
)

// SQLiteStore persists the open-positions map, the order-intent ledger,
// the realized-exit ledger, and the latest status document.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			market_id TEXT PRIMARY KEY,
			side TEXT NOT NULL,
			notional REAL NOT NULL,
			shares REAL NOT NULL,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS order_intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			notional REAL NOT NULL,
			strategies TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_created ON order_intents(created_at);`,
		`CREATE TABLE IF NOT EXISTS exits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			reason TEXT NOT NULL,
			partial BOOLEAN NOT NULL,
			filled_notional REAL NOT NULL,
			filled_shares REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			order_ids TEXT NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exits_market ON exits(market_id);`,
		`CREATE TABLE IF NOT EXISTS status (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			doc TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// SavePositions replaces the stored open-positions map in one transaction.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions []*domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return err
	}
	for _, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal position %s: %w", p.MarketID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (market_id, side, notional, shares, data, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.MarketID, string(p.Side), p.Notional, p.Shares, string(data), time.Now().UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p domain.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveIntent(ctx context.Context, rec *domain.OrderIntentRecord) error {
	strategies, err := json.Marshal(rec.Strategies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO order_intents (market_id, side, notional, strategies, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.MarketID, string(rec.Side), rec.Notional, string(strategies), rec.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListIntents(ctx context.Context, since time.Time) ([]*domain.OrderIntentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, side, notional, strategies, created_at
		 FROM order_intents WHERE created_at >= ? ORDER BY created_at ASC`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OrderIntentRecord
	for rows.Next() {
		var rec domain.OrderIntentRecord
		var side, strategies string
		if err := rows.Scan(&rec.MarketID, &side, &rec.Notional, &strategies, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Side = domain.Side(side)
		if err := json.Unmarshal([]byte(strategies), &rec.Strategies); err != nil {
			return nil, fmt.Errorf("unmarshal strategies: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneIntents drops ledger rows older than the cutoff.
func (s *SQLiteStore) PruneIntents(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_intents WHERE created_at < ?`, before.UTC())
	return err
}

func (s *SQLiteStore) SaveExit(ctx context.Context, rec *domain.ExitRecord) error {
	orderIDs, err := json.Marshal(rec.OrderIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exits (market_id, side, reason, partial, filled_notional, filled_shares,
		                    exit_price, realized_pnl, order_ids, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MarketID, string(rec.Side), rec.Reason, rec.Partial, rec.FilledNotional,
		rec.FilledShares, rec.ExitPrice, rec.RealizedPnL, string(orderIDs), rec.ClosedAt.UTC())
	return err
}

func (s *SQLiteStore) ListExits(ctx context.Context, limit int) ([]*domain.ExitRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, side, reason, partial, filled_notional, filled_shares,
		        exit_price, realized_pnl, order_ids, closed_at
		 FROM exits ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ExitRecord
	for rows.Next() {
		var rec domain.ExitRecord
		var side, orderIDs string
		if err := rows.Scan(&rec.ID, &rec.MarketID, &side, &rec.Reason, &rec.Partial,
			&rec.FilledNotional, &rec.FilledShares, &rec.ExitPrice, &rec.RealizedPnL,
			&orderIDs, &rec.ClosedAt); err != nil {
			return nil, err
		}
		rec.Side = domain.Side(side)
		if err := json.Unmarshal([]byte(orderIDs), &rec.OrderIDs); err != nil {
			return nil, fmt.Errorf("unmarshal order ids: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveStatus(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status (id, doc, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		string(doc), time.Now().UTC())
	return err
}

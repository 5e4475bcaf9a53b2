// Package store persists bet and cycle records in SQLite.
//
// Every mutation is a single statement — no multi-step transactions span
// a process restart. Settlement updates are guarded by result='pending'
// so a bet can leave the pending state at most once no matter how many
// sweeps race over it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vig/pkg/types"
)

// Store wraps the SQLite database holding bets, cycles, and the bot
// heartbeat row.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  cycle_id INTEGER NOT NULL,
  platform TEXT NOT NULL,
  market_id TEXT NOT NULL,
  token_id TEXT NOT NULL,
  side TEXT NOT NULL,
  price REAL NOT NULL,
  amount REAL NOT NULL,
  size REAL NOT NULL,
  order_id TEXT NOT NULL,
  placed_at TEXT NOT NULL,
  resolved_at TEXT,
  result TEXT NOT NULL DEFAULT 'pending',
  payout REAL NOT NULL DEFAULT 0,
  profit REAL NOT NULL DEFAULT 0,
  paper INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS idx_bets_result_cycle ON bets(result, cycle_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bets_market ON bets(market_id);`,
		`
CREATE TABLE IF NOT EXISTS cycles (
  id INTEGER PRIMARY KEY,
  started_at TEXT NOT NULL,
  ended_at TEXT,
  bets_placed INTEGER NOT NULL DEFAULT 0,
  bets_won INTEGER NOT NULL DEFAULT 0,
  bets_lost INTEGER NOT NULL DEFAULT 0,
  bets_pending INTEGER NOT NULL DEFAULT 0,
  total_staked REAL NOT NULL DEFAULT 0,
  total_returned REAL NOT NULL DEFAULT 0,
  net_profit REAL NOT NULL DEFAULT 0,
  pocketed REAL NOT NULL DEFAULT 0,
  clip_size REAL NOT NULL,
  phase TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS heartbeat (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  status TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Bets
// ————————————————————————————————————————————————————————————————————————

// InsertBet persists a bet and fills in its assigned ID.
func (s *Store) InsertBet(ctx context.Context, b *types.BetRecord) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO bets (cycle_id, platform, market_id, token_id, side, price, amount, size, order_id, placed_at, result, paper)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, b.CycleID, b.Platform, b.MarketID, b.TokenID, string(b.Side), b.Price, b.Amount, b.Size,
		b.OrderID, b.PlacedAt.UTC().Format(time.RFC3339Nano), string(b.Result), boolInt(b.Paper))
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	b.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert bet id: %w", err)
	}
	return nil
}

// SettleBet transitions a bet out of pending. The WHERE clause makes the
// update idempotent: a bet already settled is left untouched and the call
// reports false.
func (s *Store) SettleBet(ctx context.Context, id int64, result types.BetResult, payout, profit float64, resolvedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE bets
SET result=?, payout=?, profit=?, resolved_at=?
WHERE id=? AND result='pending'
`, string(result), payout, profit, resolvedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("settle bet %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle bet %d: %w", id, err)
	}
	return n > 0, nil
}

// PendingBetsByCycle returns the still-pending bets of one cycle.
func (s *Store) PendingBetsByCycle(ctx context.Context, cycleID int64) ([]types.BetRecord, error) {
	return s.queryBets(ctx, `
SELECT `+betColumns+` FROM bets WHERE result='pending' AND cycle_id=? ORDER BY id
`, cycleID)
}

// PendingBetsBefore returns pending bets from all cycles before the given
// one — the backlog that settles asynchronously to cycle boundaries.
func (s *Store) PendingBetsBefore(ctx context.Context, cycleID int64) ([]types.BetRecord, error) {
	return s.queryBets(ctx, `
SELECT `+betColumns+` FROM bets WHERE result='pending' AND cycle_id<? ORDER BY id
`, cycleID)
}

// OpenMarketIDs returns the set of market IDs with a pending bet. The
// orchestrator excludes these from the candidate set so a market never
// carries two open bets.
func (s *Store) OpenMarketIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT market_id FROM bets WHERE result='pending'`)
	if err != nil {
		return nil, fmt.Errorf("open market ids: %w", err)
	}
	defer rows.Close()

	open := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		open[id] = true
	}
	return open, rows.Err()
}

// RecentBets returns the most recently placed bets, newest first. Used by
// the risk manager's policy checks.
func (s *Store) RecentBets(ctx context.Context, n int) ([]types.BetRecord, error) {
	if n <= 0 {
		n = 50
	}
	return s.queryBets(ctx, `
SELECT `+betColumns+` FROM bets ORDER BY id DESC LIMIT ?
`, n)
}

const betColumns = `id, cycle_id, platform, market_id, token_id, side, price, amount, size, order_id, placed_at, resolved_at, result, payout, profit, paper`

func (s *Store) queryBets(ctx context.Context, query string, args ...any) ([]types.BetRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []types.BetRecord
	for rows.Next() {
		var b types.BetRecord
		var side, result, placedAt string
		var resolvedAt sql.NullString
		var paper int
		if err := rows.Scan(&b.ID, &b.CycleID, &b.Platform, &b.MarketID, &b.TokenID, &side,
			&b.Price, &b.Amount, &b.Size, &b.OrderID, &placedAt, &resolvedAt,
			&result, &b.Payout, &b.Profit, &paper); err != nil {
			return nil, err
		}
		b.Side = types.Side(side)
		b.Result = types.BetResult(result)
		b.Paper = paper != 0
		b.PlacedAt, _ = time.Parse(time.RFC3339Nano, placedAt)
		if resolvedAt.Valid {
			ts, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
			if err == nil {
				b.ResolvedAt = &ts
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Cycles
// ————————————————————————————————————————————————————————————————————————

// NextCycleID returns the ID the next cycle will use. The ID is handed to
// bet placement before the cycle row exists, so a cycle with zero placed
// bets never leaves a record.
func (s *Store) NextCycleID(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM cycles`)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("next cycle id: %w", err)
	}
	return max + 1, nil
}

// InsertCycle persists a cycle row once bets are confirmed placed.
func (s *Store) InsertCycle(ctx context.Context, c *types.CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cycles (id, started_at, bets_placed, total_staked, clip_size, phase)
VALUES (?,?,?,?,?,?)
`, c.ID, c.StartedAt.UTC().Format(time.RFC3339Nano), c.BetsPlaced, c.TotalStaked, c.ClipSize, string(c.Phase))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// FinishCycle writes the post-settlement aggregates for a cycle.
func (s *Store) FinishCycle(ctx context.Context, c *types.CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE cycles
SET ended_at=?, bets_won=?, bets_lost=?, bets_pending=?, total_returned=?, net_profit=?, pocketed=?, clip_size=?, phase=?
WHERE id=?
`, c.EndedAt.UTC().Format(time.RFC3339Nano), c.BetsWon, c.BetsLost, c.BetsPending,
		c.TotalReturned, c.NetProfit, c.Pocketed, c.ClipSize, string(c.Phase), c.ID)
	if err != nil {
		return fmt.Errorf("finish cycle %d: %w", c.ID, err)
	}
	return nil
}

// LatestCycle returns the most recent cycle record, or nil if none exists.
func (s *Store) LatestCycle(ctx context.Context) (*types.CycleRecord, error) {
	cycles, err := s.RecentCycles(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return &cycles[0], nil
}

// RecentCycles returns the most recent n cycles, newest first.
func (s *Store) RecentCycles(ctx context.Context, n int) ([]types.CycleRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, ended_at, bets_placed, bets_won, bets_lost, bets_pending,
       total_staked, total_returned, net_profit, pocketed, clip_size, phase
FROM cycles ORDER BY id DESC LIMIT ?
`, n)
	if err != nil {
		return nil, fmt.Errorf("recent cycles: %w", err)
	}
	defer rows.Close()

	var out []types.CycleRecord
	for rows.Next() {
		var c types.CycleRecord
		var startedAt, phase string
		var endedAt sql.NullString
		if err := rows.Scan(&c.ID, &startedAt, &endedAt, &c.BetsPlaced, &c.BetsWon, &c.BetsLost,
			&c.BetsPending, &c.TotalStaked, &c.TotalReturned, &c.NetProfit, &c.Pocketed,
			&c.ClipSize, &phase); err != nil {
			return nil, err
		}
		c.Phase = types.Phase(phase)
		c.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if endedAt.Valid {
			c.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumPocketed totals every cycle's pocketed amount, used to rebuild the
// snowball's cumulative pocketed total after a restart.
func (s *Store) SumPocketed(ctx context.Context) (float64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pocketed), 0) FROM cycles`)
	var total float64
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sum pocketed: %w", err)
	}
	return total, nil
}

// ————————————————————————————————————————————————————————————————————————
// Heartbeat
// ————————————————————————————————————————————————————————————————————————

// Heartbeat upserts the single bot status row.
func (s *Store) Heartbeat(ctx context.Context, status string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO heartbeat (id, status, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at
`, status, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

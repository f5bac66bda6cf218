// Package sqlite persists the decision server's warm-start state: the last
// candle window per symbol (flushed on shutdown, reloaded on startup) and a
// journal of closed trades.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // e.g. "data/decision.db"
}

// Store is a single-writer SQLite store.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candle_windows (
			symbol  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  INTEGER,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS trade_journal (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			user      TEXT    NOT NULL,
			magic     INTEGER NOT NULL,
			symbol    TEXT    NOT NULL,
			direction TEXT    NOT NULL,
			step      INTEGER NOT NULL,
			lot       REAL    NOT NULL,
			profit    REAL    NOT NULL,
			action    TEXT    NOT NULL,
			closed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_journal_key ON trade_journal (user, magic, closed_at);
	`)
	return err
}

// SaveWindows replaces the persisted candle windows with the given snapshot
// in one transaction.
func (s *Store) SaveWindows(windows map[string][]model.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM candle_windows`); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO candle_windows (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	total := 0
	for symbol, candles := range windows {
		for _, c := range candles {
			if _, err := stmt.Exec(symbol, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				tx.Rollback()
				return err
			}
			total++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[sqlite] flushed %d candles across %d symbols", total, len(windows))
	return nil
}

// LoadWindows reads back all persisted candle windows, ordered by timestamp
// within each symbol.
func (s *Store) LoadWindows() (map[string][]model.Candle, error) {
	rows, err := s.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM candle_windows
		ORDER BY symbol, ts ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query windows: %w", err)
	}
	defer rows.Close()

	windows := make(map[string][]model.Candle)
	for rows.Next() {
		var symbol string
		var c model.Candle
		var volume sql.NullInt64
		if err := rows.Scan(&symbol, &c.Time, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan window: %w", err)
		}
		c.Volume = volume.Int64
		windows[symbol] = append(windows[symbol], c)
	}
	return windows, rows.Err()
}

// JournalEntry is one closed trade.
type JournalEntry struct {
	User      string
	Magic     int64
	Symbol    string
	Direction string
	Step      int
	Lot       float64
	Profit    float64
	Action    string // reset | advance | max_reached
	ClosedAt  time.Time
}

// AppendTrade records a closed trade in the journal.
func (s *Store) AppendTrade(e JournalEntry) error {
	closedAt := e.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO trade_journal (user, magic, symbol, direction, step, lot, profit, action, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.User, e.Magic, e.Symbol, e.Direction, e.Step, e.Lot, e.Profit, e.Action, closedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns the newest trades for a (user, magic) key, newest first.
func (s *Store) RecentTrades(user string, magic int64, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT user, magic, symbol, direction, step, lot, profit, action, closed_at
		FROM trade_journal
		WHERE user = ? AND magic = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ?
	`, user, magic, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var closedAt int64
		if err := rows.Scan(&e.User, &e.Magic, &e.Symbol, &e.Direction, &e.Step, &e.Lot, &e.Profit, &e.Action, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		e.ClosedAt = time.Unix(closedAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/legisync/backend/pkg/logger"
	"github.com/legisync/backend/pkg/retry"
)

// ErrConnLost marks the storage connection as unusable. It is the only
// store error class that aborts a whole sync run.
var ErrConnLost = errors.New("storage connection lost")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Healthy pings the database with exponential backoff. When all attempts
// fail it returns ErrConnLost so callers can abort the run as failed.
func (c *Client) Healthy(ctx context.Context) error {
	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Logger:       logger.GetLogger(),
	}

	err := retry.Do(ctx, cfg, func() error {
		return c.db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnLost, err)
	}
	return nil
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		session_key TEXT NOT NULL,
		bill_number TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		change_hash TEXT NOT NULL,
		raw_payload TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(source, session_key, bill_number)
	);
	CREATE INDEX IF NOT EXISTS idx_bills_session ON bills(source, session_key);
	CREATE INDEX IF NOT EXISTS idx_bills_status ON bills(status);

	CREATE TABLE IF NOT EXISTS bill_texts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		version_num INTEGER NOT NULL,
		note TEXT,
		url TEXT,
		content BLOB,
		is_binary INTEGER NOT NULL DEFAULT 0,
		content_type TEXT,
		byte_len INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE,
		UNIQUE(bill_id, version_num)
	);
	CREATE INDEX IF NOT EXISTS idx_texts_bill ON bill_texts(bill_id);

	CREATE TABLE IF NOT EXISTS sponsors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		role TEXT,
		party TEXT,
		district TEXT,
		is_primary INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sponsors_bill ON sponsors(bill_id);

	CREATE TABLE IF NOT EXISTS amendments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		amendment_id TEXT NOT NULL,
		status TEXT NOT NULL,
		date TEXT,
		title TEXT,
		description TEXT,
		change_hash TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE,
		UNIQUE(bill_id, amendment_id)
	);
	CREATE INDEX IF NOT EXISTS idx_amendments_bill ON amendments(bill_id);

	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		analysis_version INTEGER NOT NULL,
		previous_version_id INTEGER,
		summary TEXT,
		key_points TEXT,
		impacts TEXT,
		recommended_actions TEXT,
		immediate_actions TEXT,
		resource_needs TEXT,
		impact_category TEXT,
		impact_level TEXT,
		model TEXT,
		confidence REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE,
		FOREIGN KEY (previous_version_id) REFERENCES analyses(id),
		UNIQUE(bill_id, analysis_version)
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_bill ON analyses(bill_id);

	CREATE TABLE IF NOT EXISTS impact_ratings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		analysis_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		level TEXT NOT NULL,
		description TEXT,
		affected_entities TEXT,
		confidence REAL,
		ai_generated INTEGER NOT NULL DEFAULT 1,
		reviewed_by TEXT,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE,
		FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_ratings_bill ON impact_ratings(bill_id);
	CREATE INDEX IF NOT EXISTS idx_ratings_category ON impact_ratings(category, level);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		new_bills INTEGER NOT NULL DEFAULT 0,
		bills_updated INTEGER NOT NULL DEFAULT 0,
		bills_analyzed INTEGER NOT NULL DEFAULT 0,
		amendments_tracked INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		error_samples TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);

	CREATE TABLE IF NOT EXISTS sync_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		stack_trace TEXT,
		FOREIGN KEY (run_id) REFERENCES sync_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_errors_run ON sync_errors(run_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

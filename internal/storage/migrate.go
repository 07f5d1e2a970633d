package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_snapshots (
		payment_id    TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		payload       BLOB NOT NULL,
		superseded_by TEXT,
		updated_at    DATETIME NOT NULL,
		fetched_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_retries (
		old_payment_id TEXT PRIMARY KEY,
		new_payment_id TEXT NOT NULL,
		created_at     DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_retries_new ON payment_retries (new_payment_id)`,
}

// Migrate creates the tables the tracker journals into.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

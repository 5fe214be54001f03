// Package postgres stores the social graph in PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/adeilh/rakh-sync/social"
)

// Migrate runs statements in one transaction. Blank statements are skipped;
// any failure rolls back the whole batch.
func Migrate(ctx context.Context, db *sql.DB, statements ...string) (err error) {
	if db == nil {
		return errors.New("postgres: db is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: statement %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: migrate: commit: %w", err)
	}
	return nil
}

// OpenRepository connects, creates the social tables when missing and
// returns a repository together with the handle the caller must close.
func OpenRepository(ctx context.Context, opts ...Option) (*FollowRepository, *sql.DB, error) {
	db, err := Open(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db, social.DefaultSchema); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewFollowRepository(db), db, nil
}

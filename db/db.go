// Package db provides the Postgres connection, schema migrations and the
// announcement state store used when STATE_BACKEND=postgres.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/streambot/announce"
)

// Connect opens a Postgres connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	dbx.SetMaxOpenConns(4)
	dbx.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbx, nil
}

// AnnouncementStore implements announce.StateStore on the announcement_state table.
type AnnouncementStore struct{ DB *sql.DB }

var _ announce.StateStore = (*AnnouncementStore)(nil)

// Load returns every stored row keyed by announcement id.
func (s *AnnouncementStore) Load(ctx context.Context) (map[string]announce.State, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, last_sent, counter FROM announcement_state`)
	if err != nil {
		return nil, fmt.Errorf("load announcement state: %w", err)
	}
	defer rows.Close()

	out := map[string]announce.State{}
	for rows.Next() {
		var (
			id string
			st announce.State
		)
		if err := rows.Scan(&id, &st.LastSent, &st.Counter); err != nil {
			return nil, fmt.Errorf("scan announcement state: %w", err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

// Save replaces the stored state with states in a single transaction. Rows
// whose id is absent from states are removed.
func (s *AnnouncementStore) Save(ctx context.Context, states map[string]announce.State) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save announcement state: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("announcement state rollback failed", slog.String("component", "db"), slog.Any("err", rbErr))
			}
		}
	}()

	ids := make([]string, 0, len(states))
	for id, st := range states {
		ids = append(ids, id)
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO announcement_state(id, last_sent, counter, updated_at)
			 VALUES($1,$2,$3,NOW())
			 ON CONFLICT(id) DO UPDATE SET
			   last_sent=EXCLUDED.last_sent,
			   counter=EXCLUDED.counter,
			   updated_at=NOW()`, id, st.LastSent, st.Counter); err != nil {
			return fmt.Errorf("save announcement state %s: %w", id, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM announcement_state WHERE NOT (id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("save announcement state: prune: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save announcement state: commit: %w", err)
	}
	return nil
}

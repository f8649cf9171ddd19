package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jefe/internal/dbtime"
)

const (
	stateLastSynced = "last_synced"
	stateLastPush   = "last_push_at"
	stateLastPull   = "last_pull_at"
	stateLastError  = "last_error"
)

type SyncStatus struct {
	LastSynced *time.Time `json:"last_synced"`
	LastPushAt *time.Time `json:"last_push_at"`
	LastPullAt *time.Time `json:"last_pull_at"`
	LastError  string     `json:"last_error"`
}

// State persists the pull cursor and the outcome of the last sync.
type State struct {
	db  *sql.DB
	now func() time.Time
}

// Cursor returns the server time of the last successful pull, nil before the first.
func (s *State) Cursor(ctx context.Context) (*time.Time, error) {
	return s.getTime(ctx, stateLastSynced)
}

func (s *State) MarkPushSuccess(ctx context.Context) error {
	if err := s.setTime(ctx, stateLastPush, s.now()); err != nil {
		return err
	}
	return s.set(ctx, stateLastError, "")
}

// MarkPullSuccess advances the cursor to serverTime.
func (s *State) MarkPullSuccess(ctx context.Context, serverTime time.Time) error {
	if err := s.setTime(ctx, stateLastSynced, serverTime); err != nil {
		return err
	}
	if err := s.setTime(ctx, stateLastPull, s.now()); err != nil {
		return err
	}
	return s.set(ctx, stateLastError, "")
}

func (s *State) MarkError(ctx context.Context, msg string) error {
	return s.set(ctx, stateLastError, msg)
}

func (s *State) Snapshot(ctx context.Context) (SyncStatus, error) {
	var (
		out SyncStatus
		err error
	)
	if out.LastSynced, err = s.getTime(ctx, stateLastSynced); err != nil {
		return out, err
	}
	if out.LastPushAt, err = s.getTime(ctx, stateLastPush); err != nil {
		return out, err
	}
	if out.LastPullAt, err = s.getTime(ctx, stateLastPull); err != nil {
		return out, err
	}
	out.LastError, err = s.get(ctx, stateLastError)
	return out, err
}

func (s *State) get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sync state %s: %w", key, err)
	}
	return v, nil
}

func (s *State) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, dbtime.Format(s.now()))
	if err != nil {
		return fmt.Errorf("write sync state %s: %w", key, err)
	}
	return nil
}

func (s *State) getTime(ctx context.Context, key string) (*time.Time, error) {
	v, err := s.get(ctx, key)
	if err != nil || v == "" {
		return nil, err
	}
	t, err := dbtime.Parse(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *State) setTime(ctx context.Context, key string, t time.Time) error {
	return s.set(ctx, key, dbtime.Format(t))
}

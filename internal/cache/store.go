package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jefe/internal/dbtime"
	"jefe/pkg/types"
)

var ErrNotFound = errors.New("not found")

const DefaultTTL = 300 * time.Second

// kind describes how one entity type maps onto its table.
type kind[T any] struct {
	entity  types.EntityType
	table   string
	columns []string
	env     func(*T) *Envelope
	// dests returns scan targets for columns, plus an optional hook run after Scan.
	dests  func(*T) ([]any, func() error)
	values func(*T) ([]any, error)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface{ Scan(dest ...any) error }

var envelopeColumns = []string{"server_id", "created_at", "updated_at", "last_synced", "dirty"}

// Store is the local cache for one entity kind.
type Store[T any] struct {
	db  *sql.DB
	k   kind[T]
	ttl time.Duration
	now func() time.Time
}

func newStore[T any](db *sql.DB, k kind[T], ttl time.Duration, now func() time.Time) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store[T]{db: db, k: k, ttl: ttl, now: now}
}

func (s *Store[T]) Entity() types.EntityType { return s.k.entity }

// Envelope exposes the sync envelope of e.
func (s *Store[T]) Envelope(e *T) *Envelope { return s.k.env(e) }

func (s *Store[T]) selectSQL() string {
	cols := append([]string{"id"}, envelopeColumns...)
	cols = append(cols, s.k.columns...)
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + s.k.table
}

func (s *Store[T]) GetByID(ctx context.Context, localID int64) (*T, error) {
	return s.scan(s.db.QueryRowContext(ctx, s.selectSQL()+" WHERE id = ?", localID))
}

func (s *Store[T]) GetByServerID(ctx context.Context, serverID int64) (*T, error) {
	return s.getByServerID(ctx, s.db, serverID)
}

func (s *Store[T]) getByServerID(ctx context.Context, q querier, serverID int64) (*T, error) {
	return s.scan(q.QueryRowContext(ctx, s.selectSQL()+" WHERE server_id = ?", serverID))
}

func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.where(ctx, "1 = 1")
}

func (s *Store[T]) GetDirty(ctx context.Context) ([]T, error) {
	return s.where(ctx, "dirty = 1")
}

func (s *Store[T]) CountDirty(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.k.table+" WHERE dirty = 1").Scan(&n)
	return n, err
}

// IsFresh is false when the entity was never synced or last_synced is ttl or more ago.
func (s *Store[T]) IsFresh(e *T) bool {
	env := s.k.env(e)
	if env.LastSynced == nil {
		return false
	}
	return s.now().UTC().Sub(env.LastSynced.UTC()) < s.ttl
}

// Save inserts e when it has no local id yet, otherwise upserts by local id.
func (s *Store[T]) Save(ctx context.Context, e *T) error {
	return s.save(ctx, s.db, e)
}

func (s *Store[T]) SaveMany(ctx context.Context, es []*T) error {
	if len(es) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, e := range es {
		if err := s.save(ctx, tx, e); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store[T]) save(ctx context.Context, q querier, e *T) error {
	env := s.k.env(e)
	now := s.now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	if env.UpdatedAt.IsZero() {
		env.UpdatedAt = now
	}
	vals, err := s.k.values(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.k.entity, err)
	}
	args := []any{env.ServerID, dbtime.Format(env.CreatedAt), dbtime.Format(env.UpdatedAt), dbtime.FormatPtr(env.LastSynced), env.Dirty}
	args = append(args, vals...)
	cols := append(append([]string{}, envelopeColumns...), s.k.columns...)

	if env.LocalID == 0 {
		res, err := q.ExecContext(ctx,
			"INSERT INTO "+s.k.table+" ("+strings.Join(cols, ", ")+") VALUES ("+placeholders(len(cols))+")",
			args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", s.k.entity, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		env.LocalID = id
		return nil
	}

	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, c+" = excluded."+c)
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO "+s.k.table+" (id, "+strings.Join(cols, ", ")+") VALUES ("+placeholders(len(cols)+1)+")"+
			" ON CONFLICT(id) DO UPDATE SET "+strings.Join(sets, ", "),
		append([]any{env.LocalID}, args...)...)
	if err != nil {
		return fmt.Errorf("upsert %s %d: %w", s.k.entity, env.LocalID, err)
	}
	return nil
}

func (s *Store[T]) MarkDirty(ctx context.Context, e *T) error {
	s.k.env(e).Dirty = true
	return s.Save(ctx, e)
}

func (s *Store[T]) ClearDirty(ctx context.Context, e *T) error {
	env := s.k.env(e)
	now := s.now().UTC()
	env.Dirty = false
	env.LastSynced = &now
	return s.Save(ctx, e)
}

// ClearAllDirty stamps every dirty row with the same last_synced.
func (s *Store[T]) ClearAllDirty(ctx context.Context) (int64, error) {
	return s.clearAllDirtyAt(ctx, s.now())
}

func (s *Store[T]) clearAllDirtyAt(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+s.k.table+" SET dirty = 0, last_synced = ? WHERE dirty = 1",
		dbtime.Format(at))
	if err != nil {
		return 0, fmt.Errorf("clear dirty %s: %w", s.k.entity, err)
	}
	return res.RowsAffected()
}

// SetServerID writes only server_id; no other column changes.
func (s *Store[T]) SetServerID(ctx context.Context, localID, serverID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE "+s.k.table+" SET server_id = ? WHERE id = ?", serverID, localID)
	if err != nil {
		return fmt.Errorf("set server id %s %d: %w", s.k.entity, localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CacheServerCopy stores e as received from the server: it replaces the row
// holding the same server id (or inserts one), with dirty cleared and
// last_synced refreshed.
func (s *Store[T]) CacheServerCopy(ctx context.Context, e *T) error {
	env := s.k.env(e)
	if env.ServerID == nil {
		return fmt.Errorf("cache %s: server id required", s.k.entity)
	}
	existing, err := s.GetByServerID(ctx, *env.ServerID)
	switch {
	case err == nil:
		old := s.k.env(existing)
		env.LocalID = old.LocalID
		env.CreatedAt = old.CreatedAt
	case errors.Is(err, ErrNotFound):
		env.LocalID = 0
	default:
		return err
	}
	now := s.now().UTC()
	env.Dirty = false
	env.LastSynced = &now
	return s.Save(ctx, e)
}

func (s *Store[T]) Delete(ctx context.Context, e *T) error {
	env := s.k.env(e)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.k.table+" WHERE id = ?", env.LocalID); err != nil {
		return fmt.Errorf("delete %s %d: %w", s.k.entity, env.LocalID, err)
	}
	return nil
}

func (s *Store[T]) where(ctx context.Context, clause string, args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, s.selectSQL()+" WHERE "+clause+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.k.entity, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store[T]) first(ctx context.Context, clause string, args ...any) (*T, error) {
	return s.scan(s.db.QueryRowContext(ctx, s.selectSQL()+" WHERE "+clause+" ORDER BY id LIMIT 1", args...))
}

func (s *Store[T]) scan(row rowScanner) (*T, error) {
	var (
		e          T
		localID    int64
		serverID   *int64
		createdAt  string
		updatedAt  string
		lastSynced sql.NullString
		dirty      bool
	)
	dests, finish := s.k.dests(&e)
	all := append([]any{&localID, &serverID, &createdAt, &updatedAt, &lastSynced, &dirty}, dests...)
	if err := row.Scan(all...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	env := s.k.env(&e)
	env.LocalID = localID
	env.ServerID = serverID
	env.Dirty = dirty
	var err error
	if env.CreatedAt, err = dbtime.Parse(createdAt); err != nil {
		return nil, err
	}
	if env.UpdatedAt, err = dbtime.Parse(updatedAt); err != nil {
		return nil, err
	}
	if env.LastSynced, err = dbtime.ParseNull(lastSynced); err != nil {
		return nil, err
	}
	if finish != nil {
		if err := finish(); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

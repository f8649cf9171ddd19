package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jefe/internal/dbtime"
	"jefe/pkg/types"
)

var (
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Conflict is a recorded divergence between a cached entity and its server copy.
// LocalData and ServerData are JSON snapshots; either may be empty.
type Conflict struct {
	ID              int64            `json:"id"`
	EntityType      types.EntityType `json:"entity_type"`
	LocalID         int64            `json:"local_id"`
	ServerID        int64            `json:"server_id"`
	LocalUpdatedAt  time.Time        `json:"local_updated_at"`
	ServerUpdatedAt time.Time        `json:"server_updated_at"`
	Resolution      types.Resolution `json:"resolution"`
	LocalData       string           `json:"local_data,omitempty"`
	ServerData      string           `json:"server_data,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

const conflictColumns = `id, created_at, entity_type, local_id, server_id, local_updated_at, server_updated_at,
	resolution, resolved_at, local_data, server_data`

func (l *Ledger) Add(ctx context.Context, c *Conflict) error {
	if c.Resolution == "" {
		c.Resolution = types.ResolutionUnresolved
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = l.now().UTC()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO cached_conflicts (created_at, entity_type, local_id, server_id, local_updated_at,
			server_updated_at, resolution, resolved_at, local_data, server_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dbtime.Format(c.CreatedAt), string(c.EntityType), c.LocalID, c.ServerID,
		dbtime.Format(c.LocalUpdatedAt), dbtime.Format(c.ServerUpdatedAt), string(c.Resolution),
		dbtime.FormatPtr(c.ResolvedAt), nullString(c.LocalData), nullString(c.ServerData))
	if err != nil {
		return fmt.Errorf("add conflict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (l *Ledger) GetByID(ctx context.Context, id int64) (*Conflict, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM cached_conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

// Unresolved lists records still in the unresolved state.
func (l *Ledger) Unresolved(ctx context.Context) ([]Conflict, error) {
	return l.list(ctx, `WHERE resolution = ? ORDER BY id`, string(types.ResolutionUnresolved))
}

// Pending lists records the operator has not resolved yet, newest first.
func (l *Ledger) Pending(ctx context.Context) ([]Conflict, error) {
	return l.list(ctx, `WHERE resolved_at IS NULL ORDER BY id DESC`)
}

func (l *Ledger) All(ctx context.Context) ([]Conflict, error) {
	return l.list(ctx, `ORDER BY id DESC`)
}

func (l *Ledger) Resolve(ctx context.Context, id int64, resolution types.Resolution) (*Conflict, error) {
	if resolution != types.ResolutionLocalWins && resolution != types.ResolutionServerWins {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}
	c, err := l.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ResolvedAt != nil {
		return c, ErrAlreadyResolved
	}
	now := l.now().UTC()
	if _, err := l.db.ExecContext(ctx,
		`UPDATE cached_conflicts SET resolution = ?, resolved_at = ? WHERE id = ?`,
		string(resolution), dbtime.Format(now), id); err != nil {
		return nil, fmt.Errorf("resolve conflict %d: %w", id, err)
	}
	c.Resolution = resolution
	c.ResolvedAt = &now
	return c, nil
}

func (l *Ledger) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM cached_conflicts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conflict %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearResolved removes every record whose resolution is not unresolved.
func (l *Ledger) ClearResolved(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM cached_conflicts WHERE resolution != ?`, string(types.ResolutionUnresolved))
	if err != nil {
		return 0, fmt.Errorf("clear resolved conflicts: %w", err)
	}
	return res.RowsAffected()
}

func (l *Ledger) list(ctx context.Context, tail string, args ...any) ([]Conflict, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+conflictColumns+` FROM cached_conflicts `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()
	out := make([]Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConflict(row rowScanner) (*Conflict, error) {
	var (
		c                                  Conflict
		createdAt, localUpdated, srvUpdate string
		resolvedAt, localData, serverData  sql.NullString
	)
	if err := row.Scan(&c.ID, &createdAt, &c.EntityType, &c.LocalID, &c.ServerID, &localUpdated, &srvUpdate,
		&c.Resolution, &resolvedAt, &localData, &serverData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if c.CreatedAt, err = dbtime.Parse(createdAt); err != nil {
		return nil, err
	}
	if c.LocalUpdatedAt, err = dbtime.Parse(localUpdated); err != nil {
		return nil, err
	}
	if c.ServerUpdatedAt, err = dbtime.Parse(srvUpdate); err != nil {
		return nil, err
	}
	if c.ResolvedAt, err = dbtime.ParseNull(resolvedAt); err != nil {
		return nil, err
	}
	c.LocalData = localData.String
	c.ServerData = serverData.String
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package repos

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jefe/internal/dbtime"
	"jefe/internal/models"
	"jefe/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("not found")

type SyncRepo struct {
	db *sql.DB
}

// Open opens the server database at dsn and applies its migrations.
func Open(dsn string) (*SyncRepo, error) {
	db, err := sqlitedb.Open(dsn, migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return NewSyncRepo(db), nil
}

func NewSyncRepo(db *sql.DB) *SyncRepo {
	return &SyncRepo{db: db}
}

func (r *SyncRepo) Close() error {
	return r.db.Close()
}

// WithTx runs fn in one transaction, rolling back when fn fails.
func (r *SyncRepo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface{ Scan(dest ...any) error }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sinceClause(since *time.Time) (string, []any) {
	if since == nil {
		return ` ORDER BY id`, nil
	}
	return ` WHERE updated_at > ? ORDER BY id`, []any{dbtime.Format(*since)}
}

func insertID(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func parseStamps(created, updated string, dstCreated, dstUpdated *time.Time) error {
	var err error
	if *dstCreated, err = dbtime.Parse(created); err != nil {
		return err
	}
	*dstUpdated, err = dbtime.Parse(updated)
	return err
}

// Projects

const projectColumns = `id, name, description, created_at, updated_at`

func (r *SyncRepo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (r *SyncRepo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p *models.Project) error {
	id, err := insertID(tx.ExecContext(ctx, `
		INSERT INTO projects (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, p.Name, p.Description, dbtime.Format(p.CreatedAt), dbtime.Format(p.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	p.ID = id
	return nil
}

func (r *SyncRepo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p *models.Project) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, p.Name, p.Description, dbtime.Format(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update project %d: %w", p.ID, err)
	}
	return nil
}

func (r *SyncRepo) ListProjectsSince(ctx context.Context, q queryer, since *time.Time) ([]models.Project, error) {
	where, args := sinceClause(since)
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		p                models.Project
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := parseStamps(created, updated, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Skills

const skillColumns = `id, source_id, name, display_name, description, version, author, tags, metadata_json, created_at, updated_at`

func (r *SyncRepo) GetSkillTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Skill, error) {
	return scanSkill(tx.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = ?`, id))
}

func (r *SyncRepo) InsertSkillTx(ctx context.Context, tx *sql.Tx, s *models.Skill) error {
	tags, meta, err := encodeSkillJSON(s)
	if err != nil {
		return err
	}
	id, err := insertID(tx.ExecContext(ctx, `
		INSERT INTO skills (source_id, name, display_name, description, version, author, tags, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SourceID, s.Name, s.DisplayName, s.Description, s.Version, s.Author, tags, meta,
		dbtime.Format(s.CreatedAt), dbtime.Format(s.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	s.ID = id
	return nil
}

func (r *SyncRepo) UpdateSkillTx(ctx context.Context, tx *sql.Tx, s *models.Skill) error {
	tags, meta, err := encodeSkillJSON(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE skills SET source_id = ?, name = ?, display_name = ?, description = ?, version = ?, author = ?,
			tags = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`, s.SourceID, s.Name, s.DisplayName, s.Description, s.Version, s.Author, tags, meta, dbtime.Format(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update skill %d: %w", s.ID, err)
	}
	return nil
}

func (r *SyncRepo) ListSkillsSince(ctx context.Context, q queryer, since *time.Time) ([]models.Skill, error) {
	where, args := sinceClause(since)
	rows, err := q.QueryContext(ctx, `SELECT `+skillColumns+` FROM skills`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Skill, 0)
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func encodeSkillJSON(s *models.Skill) (string, string, error) {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tb, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(tb), string(mb), nil
}

func scanSkill(row rowScanner) (*models.Skill, error) {
	var (
		s                        models.Skill
		tags, meta, created, upd string
	)
	if err := row.Scan(&s.ID, &s.SourceID, &s.Name, &s.DisplayName, &s.Description, &s.Version, &s.Author,
		&tags, &meta, &created, &upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := parseStamps(created, upd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Tags = []string{}
	_ = json.Unmarshal([]byte(tags), &s.Tags)
	s.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(meta), &s.Metadata)
	return &s, nil
}

// Installed skills

const installedSkillColumns = `id, skill_id, harness_id, scope, project_id, installed_path, pinned_version, created_at, updated_at`

func (r *SyncRepo) GetInstalledSkillTx(ctx context.Context, tx *sql.Tx, id int64) (*models.InstalledSkill, error) {
	return scanInstalledSkill(tx.QueryRowContext(ctx, `SELECT `+installedSkillColumns+` FROM installed_skills WHERE id = ?`, id))
}

func (r *SyncRepo) InsertInstalledSkillTx(ctx context.Context, tx *sql.Tx, i *models.InstalledSkill) error {
	id, err := insertID(tx.ExecContext(ctx, `
		INSERT INTO installed_skills (skill_id, harness_id, scope, project_id, installed_path, pinned_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, i.SkillID, i.HarnessID, string(i.Scope), i.ProjectID, i.InstalledPath, i.PinnedVersion,
		dbtime.Format(i.CreatedAt), dbtime.Format(i.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("insert installed skill: %w", err)
	}
	i.ID = id
	return nil
}

func (r *SyncRepo) UpdateInstalledSkillTx(ctx context.Context, tx *sql.Tx, i *models.InstalledSkill) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE installed_skills SET skill_id = ?, harness_id = ?, scope = ?, project_id = ?, installed_path = ?,
			pinned_version = ?, updated_at = ?
		WHERE id = ?
	`, i.SkillID, i.HarnessID, string(i.Scope), i.ProjectID, i.InstalledPath, i.PinnedVersion, dbtime.Format(i.UpdatedAt), i.ID)
	if err != nil {
		return fmt.Errorf("update installed skill %d: %w", i.ID, err)
	}
	return nil
}

func (r *SyncRepo) ListInstalledSkillsSince(ctx context.Context, q queryer, since *time.Time) ([]models.InstalledSkill, error) {
	where, args := sinceClause(since)
	rows, err := q.QueryContext(ctx, `SELECT `+installedSkillColumns+` FROM installed_skills`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.InstalledSkill, 0)
	for rows.Next() {
		i, err := scanInstalledSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func scanInstalledSkill(row rowScanner) (*models.InstalledSkill, error) {
	var (
		i                models.InstalledSkill
		created, updated string
	)
	if err := row.Scan(&i.ID, &i.SkillID, &i.HarnessID, &i.Scope, &i.ProjectID, &i.InstalledPath, &i.PinnedVersion,
		&created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := parseStamps(created, updated, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// Harness configs

const harnessConfigColumns = `id, harness_id, scope, kind, path, content, content_hash, project_id, created_at, updated_at`

func (r *SyncRepo) GetHarnessConfigTx(ctx context.Context, tx *sql.Tx, id int64) (*models.HarnessConfig, error) {
	return scanHarnessConfig(tx.QueryRowContext(ctx, `SELECT `+harnessConfigColumns+` FROM harness_configs WHERE id = ?`, id))
}

func (r *SyncRepo) InsertHarnessConfigTx(ctx context.Context, tx *sql.Tx, h *models.HarnessConfig) error {
	id, err := insertID(tx.ExecContext(ctx, `
		INSERT INTO harness_configs (harness_id, scope, kind, path, content, content_hash, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.HarnessID, string(h.Scope), h.Kind, h.Path, h.Content, h.ContentHash, h.ProjectID,
		dbtime.Format(h.CreatedAt), dbtime.Format(h.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("insert harness config: %w", err)
	}
	h.ID = id
	return nil
}

func (r *SyncRepo) UpdateHarnessConfigTx(ctx context.Context, tx *sql.Tx, h *models.HarnessConfig) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE harness_configs SET harness_id = ?, scope = ?, kind = ?, path = ?, content = ?, content_hash = ?,
			project_id = ?, updated_at = ?
		WHERE id = ?
	`, h.HarnessID, string(h.Scope), h.Kind, h.Path, h.Content, h.ContentHash, h.ProjectID, dbtime.Format(h.UpdatedAt), h.ID)
	if err != nil {
		return fmt.Errorf("update harness config %d: %w", h.ID, err)
	}
	return nil
}

func (r *SyncRepo) ListHarnessConfigsSince(ctx context.Context, q queryer, since *time.Time) ([]models.HarnessConfig, error) {
	where, args := sinceClause(since)
	rows, err := q.QueryContext(ctx, `SELECT `+harnessConfigColumns+` FROM harness_configs`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.HarnessConfig, 0)
	for rows.Next() {
		h, err := scanHarnessConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHarnessConfig(row rowScanner) (*models.HarnessConfig, error) {
	var (
		h                models.HarnessConfig
		created, updated string
	)
	if err := row.Scan(&h.ID, &h.HarnessID, &h.Scope, &h.Kind, &h.Path, &h.Content, &h.ContentHash, &h.ProjectID,
		&created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := parseStamps(created, updated, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

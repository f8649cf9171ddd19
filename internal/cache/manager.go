package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"jefe/internal/sqlitedb"
	"jefe/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// Manager owns the cache database and one store per entity kind.
type Manager struct {
	db  *sql.DB
	now func() time.Time

	Projects        *Store[Project]
	Skills          *Store[Skill]
	InstalledSkills *Store[InstalledSkill]
	HarnessConfigs  *Store[HarnessConfig]
	Conflicts       *Ledger
	State           *State
}

func Open(path string, opts Options) (*Manager, error) {
	db, err := sqlitedb.Open(path, migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return newManager(db, opts), nil
}

func newManager(db *sql.DB, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		db:              db,
		now:             now,
		Projects:        newStore(db, projectKind, opts.TTL, now),
		Skills:          newStore(db, skillKind, opts.TTL, now),
		InstalledSkills: newStore(db, installedSkillKind, opts.TTL, now),
		HarnessConfigs:  newStore(db, harnessConfigKind, opts.TTL, now),
		Conflicts:       &Ledger{db: db, now: now},
		State:           &State{db: db, now: now},
	}
}

func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) CacheProject(ctx context.Context, p Project) (*Project, error) {
	if err := m.Projects.CacheServerCopy(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) CacheSkill(ctx context.Context, s Skill) (*Skill, error) {
	if err := m.Skills.CacheServerCopy(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) CacheInstalledSkill(ctx context.Context, i InstalledSkill) (*InstalledSkill, error) {
	if err := m.InstalledSkills.CacheServerCopy(ctx, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (m *Manager) CacheHarnessConfig(ctx context.Context, h HarnessConfig) (*HarnessConfig, error) {
	if err := m.HarnessConfigs.CacheServerCopy(ctx, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (m *Manager) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	return m.Projects.first(ctx, "name = ?", name)
}

func (m *Manager) GetSkillByName(ctx context.Context, name string) (*Skill, error) {
	return m.Skills.first(ctx, "name = ?", name)
}

func (m *Manager) GetSkillsBySource(ctx context.Context, sourceID int64) ([]Skill, error) {
	return m.Skills.where(ctx, "source_id = ?", sourceID)
}

func (m *Manager) GetInstalledSkillsBySkill(ctx context.Context, skillID int64) ([]InstalledSkill, error) {
	return m.InstalledSkills.where(ctx, "skill_id = ?", skillID)
}

// GetInstalledSkillsByScope narrows to projectID only when it is set.
func (m *Manager) GetInstalledSkillsByScope(ctx context.Context, scope types.Scope, projectID *int64) ([]InstalledSkill, error) {
	if projectID != nil {
		return m.InstalledSkills.where(ctx, "scope = ? AND project_id = ?", string(scope), *projectID)
	}
	return m.InstalledSkills.where(ctx, "scope = ?", string(scope))
}

func (m *Manager) GetHarnessConfigsByHarness(ctx context.Context, harnessID int64) ([]HarnessConfig, error) {
	return m.HarnessConfigs.where(ctx, "harness_id = ?", harnessID)
}

func (m *Manager) GetHarnessConfigsByScope(ctx context.Context, scope types.Scope, projectID *int64) ([]HarnessConfig, error) {
	if projectID != nil {
		return m.HarnessConfigs.where(ctx, "scope = ? AND project_id = ?", string(scope), *projectID)
	}
	return m.HarnessConfigs.where(ctx, "scope = ?", string(scope))
}

func (m *Manager) GetHarnessConfigByPath(ctx context.Context, path string) (*HarnessConfig, error) {
	return m.HarnessConfigs.first(ctx, "path = ?", path)
}

type DirtySet struct {
	Projects        []Project
	Skills          []Skill
	InstalledSkills []InstalledSkill
	HarnessConfigs  []HarnessConfig
}

func (d DirtySet) Len() int {
	return len(d.Projects) + len(d.Skills) + len(d.InstalledSkills) + len(d.HarnessConfigs)
}

func (m *Manager) AllDirty(ctx context.Context) (DirtySet, error) {
	var (
		out DirtySet
		err error
	)
	if out.Projects, err = m.Projects.GetDirty(ctx); err != nil {
		return out, err
	}
	if out.Skills, err = m.Skills.GetDirty(ctx); err != nil {
		return out, err
	}
	if out.InstalledSkills, err = m.InstalledSkills.GetDirty(ctx); err != nil {
		return out, err
	}
	if out.HarnessConfigs, err = m.HarnessConfigs.GetDirty(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// ClearAllDirty clears dirty flags on every kind with one shared timestamp
// and returns the total.
func (m *Manager) ClearAllDirty(ctx context.Context) (int64, error) {
	return m.ClearDirtyKinds(ctx)
}

// ClearDirtyKinds is ClearAllDirty restricted to kinds; none means all.
func (m *Manager) ClearDirtyKinds(ctx context.Context, kinds ...types.EntityType) (int64, error) {
	if len(kinds) == 0 {
		kinds = types.AllEntityTypes
	}
	byKind := map[types.EntityType]func(context.Context, time.Time) (int64, error){
		types.EntityProject:        m.Projects.clearAllDirtyAt,
		types.EntitySkill:          m.Skills.clearAllDirtyAt,
		types.EntityInstalledSkill: m.InstalledSkills.clearAllDirtyAt,
		types.EntityHarnessConfig:  m.HarnessConfigs.clearAllDirtyAt,
	}
	at := m.now()
	var total int64
	done := make(map[types.EntityType]bool, len(kinds))
	for _, et := range kinds {
		fn, ok := byKind[et]
		if !ok {
			return total, fmt.Errorf("unknown entity type %q", et)
		}
		if done[et] {
			continue
		}
		done[et] = true
		n, err := fn(ctx, at)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

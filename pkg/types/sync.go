package types

import (
	"fmt"
	"time"
)

type EntityType string

const (
	EntityProject        EntityType = "project"
	EntitySkill          EntityType = "skill"
	EntityInstalledSkill EntityType = "installed_skill"
	EntityHarnessConfig  EntityType = "harness_config"
)

// AllEntityTypes is in push processing order: dependencies first.
var AllEntityTypes = []EntityType{EntityProject, EntitySkill, EntityInstalledSkill, EntityHarnessConfig}

func ParseEntityType(s string) (EntityType, error) {
	for _, et := range AllEntityTypes {
		if string(et) == s {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionServerWins Resolution = "server_wins"
)

type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Items carry local_id only on push; pull responses omit it.

type ProjectItem struct {
	LocalID     int64     `json:"local_id,omitempty"`
	ServerID    *int64    `json:"server_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SkillItem struct {
	LocalID     int64          `json:"local_id,omitempty"`
	ServerID    *int64         `json:"server_id"`
	SourceID    *int64         `json:"source_id"`
	Name        string         `json:"name"`
	DisplayName *string        `json:"display_name"`
	Description *string        `json:"description"`
	Version     *string        `json:"version"`
	Author      *string        `json:"author"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type InstalledSkillItem struct {
	LocalID       int64     `json:"local_id,omitempty"`
	ServerID      *int64    `json:"server_id"`
	SkillID       *int64    `json:"skill_id"`
	HarnessID     *int64    `json:"harness_id"`
	Scope         Scope     `json:"scope"`
	ProjectID     *int64    `json:"project_id"`
	InstalledPath string    `json:"installed_path"`
	PinnedVersion *string   `json:"pinned_version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type HarnessConfigItem struct {
	LocalID     int64     `json:"local_id,omitempty"`
	ServerID    *int64    `json:"server_id"`
	HarnessID   *int64    `json:"harness_id"`
	Scope       Scope     `json:"scope"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	Content     *string   `json:"content"`
	ContentHash *string   `json:"content_hash"`
	ProjectID   *int64    `json:"project_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PushRequest struct {
	Projects        []ProjectItem        `json:"projects"`
	Skills          []SkillItem          `json:"skills"`
	InstalledSkills []InstalledSkillItem `json:"installed_skills"`
	HarnessConfigs  []HarnessConfigItem  `json:"harness_configs"`
}

func (r PushRequest) Len() int {
	return len(r.Projects) + len(r.Skills) + len(r.InstalledSkills) + len(r.HarnessConfigs)
}

type ConflictInfo struct {
	EntityType      EntityType `json:"entity_type"`
	LocalID         int64      `json:"local_id"`
	ServerID        int64      `json:"server_id"`
	LocalUpdatedAt  time.Time  `json:"local_updated_at"`
	ServerUpdatedAt time.Time  `json:"server_updated_at"`
	Resolution      Resolution `json:"resolution"`
}

type PushResponse struct {
	Success               bool                           `json:"success"`
	ProjectsSynced        int                            `json:"projects_synced"`
	SkillsSynced          int                            `json:"skills_synced"`
	InstalledSkillsSynced int                            `json:"installed_skills_synced"`
	HarnessConfigsSynced  int                            `json:"harness_configs_synced"`
	Conflicts             []ConflictInfo                 `json:"conflicts"`
	ServerIDMappings      map[EntityType]map[int64]int64 `json:"server_id_mappings"`
}

func (r PushResponse) Synced() int {
	return r.ProjectsSynced + r.SkillsSynced + r.InstalledSkillsSynced + r.HarnessConfigsSynced
}

type PullRequest struct {
	LastSynced  *time.Time   `json:"last_synced,omitempty"`
	EntityTypes []EntityType `json:"entity_types,omitempty"`
}

// Wants reports whether et was requested; an empty filter means all.
func (r PullRequest) Wants(et EntityType) bool {
	if len(r.EntityTypes) == 0 {
		return true
	}
	for _, want := range r.EntityTypes {
		if want == et {
			return true
		}
	}
	return false
}

type PullResponse struct {
	Success         bool                 `json:"success"`
	ServerTime      time.Time            `json:"server_time"`
	Projects        []ProjectItem        `json:"projects"`
	Skills          []SkillItem          `json:"skills"`
	InstalledSkills []InstalledSkillItem `json:"installed_skills"`
	HarnessConfigs  []HarnessConfigItem  `json:"harness_configs"`
}

func (r PullResponse) Len() int {
	return len(r.Projects) + len(r.Skills) + len(r.InstalledSkills) + len(r.HarnessConfigs)
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

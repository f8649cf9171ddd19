package models

import (
	"time"

	"jefe/pkg/types"
)

// Server-side authoritative records. ID is the server id handed to clients.

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Skill struct {
	ID          int64          `json:"id"`
	SourceID    *int64         `json:"source_id"`
	Name        string         `json:"name"`
	DisplayName *string        `json:"display_name"`
	Description *string        `json:"description"`
	Version     *string        `json:"version"`
	Author      *string        `json:"author"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type InstalledSkill struct {
	ID            int64       `json:"id"`
	SkillID       *int64      `json:"skill_id"`
	HarnessID     *int64      `json:"harness_id"`
	Scope         types.Scope `json:"scope"`
	ProjectID     *int64      `json:"project_id"`
	InstalledPath string      `json:"installed_path"`
	PinnedVersion *string     `json:"pinned_version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type HarnessConfig struct {
	ID          int64       `json:"id"`
	HarnessID   *int64      `json:"harness_id"`
	Scope       types.Scope `json:"scope"`
	Kind        string      `json:"kind"`
	Path        string      `json:"path"`
	Content     *string     `json:"content"`
	ContentHash *string     `json:"content_hash"`
	ProjectID   *int64      `json:"project_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"jefe/pkg/types"
)

// Envelope is the sync bookkeeping every cached entity carries.
type Envelope struct {
	LocalID    int64      `json:"local_id"`
	ServerID   *int64     `json:"server_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSynced *time.Time `json:"last_synced"`
	Dirty      bool       `json:"dirty"`
}

type Project struct {
	Envelope
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Skill struct {
	Envelope
	SourceID    *int64         `json:"source_id"`
	Name        string         `json:"name"`
	DisplayName *string        `json:"display_name"`
	Description *string        `json:"description"`
	Version     *string        `json:"version"`
	Author      *string        `json:"author"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
}

type InstalledSkill struct {
	Envelope
	SkillID       *int64      `json:"skill_id"`
	HarnessID     *int64      `json:"harness_id"`
	Scope         types.Scope `json:"scope"`
	ProjectID     *int64      `json:"project_id"`
	InstalledPath string      `json:"installed_path"`
	PinnedVersion *string     `json:"pinned_version"`
}

type HarnessConfig struct {
	Envelope
	HarnessID   *int64      `json:"harness_id"`
	Scope       types.Scope `json:"scope"`
	Kind        string      `json:"kind"`
	Path        string      `json:"path"`
	Content     *string     `json:"content"`
	ContentHash *string     `json:"content_hash"`
	ProjectID   *int64      `json:"project_id"`
}

var projectKind = kind[Project]{
	entity:  types.EntityProject,
	table:   "cached_projects",
	columns: []string{"name", "description"},
	env:     func(p *Project) *Envelope { return &p.Envelope },
	dests: func(p *Project) ([]any, func() error) {
		return []any{&p.Name, &p.Description}, nil
	},
	values: func(p *Project) ([]any, error) {
		return []any{p.Name, p.Description}, nil
	},
}

var skillKind = kind[Skill]{
	entity:  types.EntitySkill,
	table:   "cached_skills",
	columns: []string{"source_id", "name", "display_name", "description", "version", "author", "tags", "metadata_json"},
	env:     func(s *Skill) *Envelope { return &s.Envelope },
	dests: func(s *Skill) ([]any, func() error) {
		var tags, meta sql.NullString
		finish := func() error {
			s.Tags = decodeTags(tags)
			s.Metadata = decodeMetadata(meta)
			return nil
		}
		return []any{&s.SourceID, &s.Name, &s.DisplayName, &s.Description, &s.Version, &s.Author, &tags, &meta}, finish
	},
	values: func(s *Skill) ([]any, error) {
		tags := s.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return nil, err
		}
		meta := s.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		return []any{s.SourceID, s.Name, s.DisplayName, s.Description, s.Version, s.Author, string(tagsJSON), string(metaJSON)}, nil
	},
}

var installedSkillKind = kind[InstalledSkill]{
	entity:  types.EntityInstalledSkill,
	table:   "cached_installed_skills",
	columns: []string{"skill_id", "harness_id", "scope", "project_id", "installed_path", "pinned_version"},
	env:     func(i *InstalledSkill) *Envelope { return &i.Envelope },
	dests: func(i *InstalledSkill) ([]any, func() error) {
		return []any{&i.SkillID, &i.HarnessID, &i.Scope, &i.ProjectID, &i.InstalledPath, &i.PinnedVersion}, nil
	},
	values: func(i *InstalledSkill) ([]any, error) {
		return []any{i.SkillID, i.HarnessID, string(i.Scope), i.ProjectID, i.InstalledPath, i.PinnedVersion}, nil
	},
}

var harnessConfigKind = kind[HarnessConfig]{
	entity:  types.EntityHarnessConfig,
	table:   "cached_harness_configs",
	columns: []string{"harness_id", "scope", "kind", "path", "content", "content_hash", "project_id"},
	env:     func(h *HarnessConfig) *Envelope { return &h.Envelope },
	dests: func(h *HarnessConfig) ([]any, func() error) {
		return []any{&h.HarnessID, &h.Scope, &h.Kind, &h.Path, &h.Content, &h.ContentHash, &h.ProjectID}, nil
	},
	values: func(h *HarnessConfig) ([]any, error) {
		return []any{h.HarnessID, string(h.Scope), h.Kind, h.Path, h.Content, h.ContentHash, h.ProjectID}, nil
	},
}

func decodeTags(ns sql.NullString) []string {
	var out []string
	if ns.Valid && ns.String != "" {
		if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
			return []string{}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func decodeMetadata(ns sql.NullString) map[string]any {
	var out map[string]any
	if ns.Valid && ns.String != "" {
		if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
			return map[string]any{}
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

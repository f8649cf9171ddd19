package cloudsync

import (
	"encoding/json"

	"jefe/internal/cache"
	"jefe/pkg/types"
)

func projectItem(p cache.Project) types.ProjectItem {
	return types.ProjectItem{
		LocalID:     p.LocalID,
		ServerID:    p.ServerID,
		Name:        p.Name,
		Description: p.Description,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func applyProject(dst *cache.Project, it types.ProjectItem) {
	dst.ServerID = copyInt(it.ServerID)
	dst.UpdatedAt = it.UpdatedAt.UTC()
	dst.Name = it.Name
	dst.Description = it.Description
}

func skillItem(s cache.Skill) types.SkillItem {
	return types.SkillItem{
		LocalID:     s.LocalID,
		ServerID:    s.ServerID,
		SourceID:    s.SourceID,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		Description: s.Description,
		Version:     s.Version,
		Author:      s.Author,
		Tags:        s.Tags,
		Metadata:    s.Metadata,
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
}

func applySkill(dst *cache.Skill, it types.SkillItem) {
	dst.ServerID = copyInt(it.ServerID)
	dst.UpdatedAt = it.UpdatedAt.UTC()
	dst.SourceID = it.SourceID
	dst.Name = it.Name
	dst.DisplayName = it.DisplayName
	dst.Description = it.Description
	dst.Version = it.Version
	dst.Author = it.Author
	dst.Tags = it.Tags
	dst.Metadata = it.Metadata
}

func installedSkillItem(i cache.InstalledSkill) types.InstalledSkillItem {
	return types.InstalledSkillItem{
		LocalID:       i.LocalID,
		ServerID:      i.ServerID,
		SkillID:       i.SkillID,
		HarnessID:     i.HarnessID,
		Scope:         i.Scope,
		ProjectID:     i.ProjectID,
		InstalledPath: i.InstalledPath,
		PinnedVersion: i.PinnedVersion,
		UpdatedAt:     i.UpdatedAt.UTC(),
	}
}

func applyInstalledSkill(dst *cache.InstalledSkill, it types.InstalledSkillItem) {
	dst.ServerID = copyInt(it.ServerID)
	dst.UpdatedAt = it.UpdatedAt.UTC()
	dst.SkillID = it.SkillID
	dst.HarnessID = it.HarnessID
	dst.Scope = it.Scope
	dst.ProjectID = it.ProjectID
	dst.InstalledPath = it.InstalledPath
	dst.PinnedVersion = it.PinnedVersion
}

func harnessConfigItem(h cache.HarnessConfig) types.HarnessConfigItem {
	return types.HarnessConfigItem{
		LocalID:     h.LocalID,
		ServerID:    h.ServerID,
		HarnessID:   h.HarnessID,
		Scope:       h.Scope,
		Kind:        h.Kind,
		Path:        h.Path,
		Content:     h.Content,
		ContentHash: h.ContentHash,
		ProjectID:   h.ProjectID,
		UpdatedAt:   h.UpdatedAt.UTC(),
	}
}

func applyHarnessConfig(dst *cache.HarnessConfig, it types.HarnessConfigItem) {
	dst.ServerID = copyInt(it.ServerID)
	dst.UpdatedAt = it.UpdatedAt.UTC()
	dst.HarnessID = it.HarnessID
	dst.Scope = it.Scope
	dst.Kind = it.Kind
	dst.Path = it.Path
	dst.Content = it.Content
	dst.ContentHash = it.ContentHash
	dst.ProjectID = it.ProjectID
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// snapshot renders v for a conflict record; failures yield an empty snapshot.
func snapshot(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

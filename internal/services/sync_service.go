package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jefe/internal/logging"
	"jefe/internal/models"
	"jefe/internal/repos"
	"jefe/pkg/types"
)

var ErrInvalidEntityType = errors.New("invalid entity type")

type SyncService struct {
	repo   *repos.SyncRepo
	logger *logging.Logger
	now    func() time.Time
}

func NewSyncService(repo *repos.SyncRepo, logger *logging.Logger) *SyncService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SyncService{repo: repo, logger: logger, now: time.Now}
}

// pushTally accumulates per-kind outcomes of one push.
type pushTally struct {
	resp *types.PushResponse
}

func (t pushTally) record(et types.EntityType, localID, serverID int64, conflict *types.ConflictInfo, count *int) {
	if conflict != nil {
		t.resp.Conflicts = append(t.resp.Conflicts, *conflict)
	}
	if serverID == 0 {
		return
	}
	t.resp.ServerIDMappings[et][localID] = serverID
	*count++
}

// lww reports a server_wins conflict when the stored copy is strictly newer
// than the pushed one.
func lww(et types.EntityType, localID, serverID int64, clientUpdated, serverUpdated time.Time) *types.ConflictInfo {
	if !serverUpdated.UTC().After(clientUpdated.UTC()) {
		return nil
	}
	return &types.ConflictInfo{
		EntityType:      et,
		LocalID:         localID,
		ServerID:        serverID,
		LocalUpdatedAt:  clientUpdated.UTC(),
		ServerUpdatedAt: serverUpdated.UTC(),
		Resolution:      types.ResolutionServerWins,
	}
}

func isNew(serverID *int64) bool {
	return serverID == nil || *serverID == 0
}

// Push merges every pushed item in a single transaction.
func (s *SyncService) Push(ctx context.Context, req types.PushRequest) (*types.PushResponse, error) {
	resp := &types.PushResponse{
		Success:   true,
		Conflicts: []types.ConflictInfo{},
		ServerIDMappings: map[types.EntityType]map[int64]int64{
			types.EntityProject:        {},
			types.EntitySkill:          {},
			types.EntityInstalledSkill: {},
			types.EntityHarnessConfig:  {},
		},
	}
	tally := pushTally{resp: resp}
	now := s.now().UTC()

	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		for _, it := range req.Projects {
			id, conflict, err := s.pushProject(ctx, tx, it, now)
			if err != nil {
				return err
			}
			tally.record(types.EntityProject, it.LocalID, id, conflict, &resp.ProjectsSynced)
		}
		for _, it := range req.Skills {
			id, conflict, err := s.pushSkill(ctx, tx, it, now)
			if err != nil {
				return err
			}
			tally.record(types.EntitySkill, it.LocalID, id, conflict, &resp.SkillsSynced)
		}
		for _, it := range req.InstalledSkills {
			id, conflict, err := s.pushInstalledSkill(ctx, tx, it, now)
			if err != nil {
				return err
			}
			tally.record(types.EntityInstalledSkill, it.LocalID, id, conflict, &resp.InstalledSkillsSynced)
		}
		for _, it := range req.HarnessConfigs {
			id, conflict, err := s.pushHarnessConfig(ctx, tx, it, now)
			if err != nil {
				return err
			}
			tally.record(types.EntityHarnessConfig, it.LocalID, id, conflict, &resp.HarnessConfigsSynced)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	s.logger.Infof("push: received=%d synced=%d conflicts=%d", req.Len(), resp.Synced(), len(resp.Conflicts))
	return resp, nil
}

func (s *SyncService) pushProject(ctx context.Context, tx *sql.Tx, it types.ProjectItem, now time.Time) (int64, *types.ConflictInfo, error) {
	rec := models.Project{Name: it.Name, Description: it.Description, CreatedAt: now, UpdatedAt: now}
	if isNew(it.ServerID) {
		err := s.repo.InsertProjectTx(ctx, tx, &rec)
		return rec.ID, nil, err
	}
	existing, err := s.repo.GetProjectTx(ctx, tx, *it.ServerID)
	if errors.Is(err, repos.ErrNotFound) {
		s.logger.Warnf("push: project %d not found", *it.ServerID)
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if c := lww(types.EntityProject, it.LocalID, existing.ID, it.UpdatedAt, existing.UpdatedAt); c != nil {
		return existing.ID, c, nil
	}
	rec.ID, rec.CreatedAt = existing.ID, existing.CreatedAt
	return existing.ID, nil, s.repo.UpdateProjectTx(ctx, tx, &rec)
}

func (s *SyncService) pushSkill(ctx context.Context, tx *sql.Tx, it types.SkillItem, now time.Time) (int64, *types.ConflictInfo, error) {
	rec := models.Skill{
		SourceID:    it.SourceID,
		Name:        it.Name,
		DisplayName: it.DisplayName,
		Description: it.Description,
		Version:     it.Version,
		Author:      it.Author,
		Tags:        it.Tags,
		Metadata:    it.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if isNew(it.ServerID) {
		if it.SourceID == nil {
			s.logger.Debugf("push: skill local=%d has no source yet, skipped", it.LocalID)
			return 0, nil, nil
		}
		err := s.repo.InsertSkillTx(ctx, tx, &rec)
		return rec.ID, nil, err
	}
	existing, err := s.repo.GetSkillTx(ctx, tx, *it.ServerID)
	if errors.Is(err, repos.ErrNotFound) {
		s.logger.Warnf("push: skill %d not found", *it.ServerID)
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if c := lww(types.EntitySkill, it.LocalID, existing.ID, it.UpdatedAt, existing.UpdatedAt); c != nil {
		return existing.ID, c, nil
	}
	rec.ID, rec.CreatedAt = existing.ID, existing.CreatedAt
	return existing.ID, nil, s.repo.UpdateSkillTx(ctx, tx, &rec)
}

func (s *SyncService) pushInstalledSkill(ctx context.Context, tx *sql.Tx, it types.InstalledSkillItem, now time.Time) (int64, *types.ConflictInfo, error) {
	rec := models.InstalledSkill{
		SkillID:       it.SkillID,
		HarnessID:     it.HarnessID,
		Scope:         it.Scope,
		ProjectID:     it.ProjectID,
		InstalledPath: it.InstalledPath,
		PinnedVersion: it.PinnedVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if isNew(it.ServerID) {
		if it.SkillID == nil || it.HarnessID == nil {
			s.logger.Debugf("push: installed skill local=%d missing skill or harness, skipped", it.LocalID)
			return 0, nil, nil
		}
		err := s.repo.InsertInstalledSkillTx(ctx, tx, &rec)
		return rec.ID, nil, err
	}
	existing, err := s.repo.GetInstalledSkillTx(ctx, tx, *it.ServerID)
	if errors.Is(err, repos.ErrNotFound) {
		s.logger.Warnf("push: installed skill %d not found", *it.ServerID)
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if c := lww(types.EntityInstalledSkill, it.LocalID, existing.ID, it.UpdatedAt, existing.UpdatedAt); c != nil {
		return existing.ID, c, nil
	}
	rec.ID, rec.CreatedAt = existing.ID, existing.CreatedAt
	return existing.ID, nil, s.repo.UpdateInstalledSkillTx(ctx, tx, &rec)
}

func (s *SyncService) pushHarnessConfig(ctx context.Context, tx *sql.Tx, it types.HarnessConfigItem, now time.Time) (int64, *types.ConflictInfo, error) {
	rec := models.HarnessConfig{
		HarnessID:   it.HarnessID,
		Scope:       it.Scope,
		Kind:        it.Kind,
		Path:        it.Path,
		Content:     it.Content,
		ContentHash: it.ContentHash,
		ProjectID:   it.ProjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if isNew(it.ServerID) {
		if it.HarnessID == nil {
			s.logger.Debugf("push: harness config local=%d has no harness, skipped", it.LocalID)
			return 0, nil, nil
		}
		err := s.repo.InsertHarnessConfigTx(ctx, tx, &rec)
		return rec.ID, nil, err
	}
	existing, err := s.repo.GetHarnessConfigTx(ctx, tx, *it.ServerID)
	if errors.Is(err, repos.ErrNotFound) {
		s.logger.Warnf("push: harness config %d not found", *it.ServerID)
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if c := lww(types.EntityHarnessConfig, it.LocalID, existing.ID, it.UpdatedAt, existing.UpdatedAt); c != nil {
		return existing.ID, c, nil
	}
	rec.ID, rec.CreatedAt = existing.ID, existing.CreatedAt
	return existing.ID, nil, s.repo.UpdateHarnessConfigTx(ctx, tx, &rec)
}

// Pull returns every record of the requested kinds updated strictly after
// req.LastSynced, read in one transaction. ServerTime is read before querying.
func (s *SyncService) Pull(ctx context.Context, req types.PullRequest) (*types.PullResponse, error) {
	for _, et := range req.EntityTypes {
		if _, err := types.ParseEntityType(string(et)); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, et)
		}
	}
	resp := &types.PullResponse{
		Success:         true,
		ServerTime:      s.now().UTC(),
		Projects:        []types.ProjectItem{},
		Skills:          []types.SkillItem{},
		InstalledSkills: []types.InstalledSkillItem{},
		HarnessConfigs:  []types.HarnessConfigItem{},
	}
	since := req.LastSynced
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		if req.Wants(types.EntityProject) {
			recs, err := s.repo.ListProjectsSince(ctx, tx, since)
			if err != nil {
				return fmt.Errorf("pull projects: %w", err)
			}
			for _, r := range recs {
				resp.Projects = append(resp.Projects, types.ProjectItem{
					ServerID: int64Ptr(r.ID), Name: r.Name, Description: r.Description, UpdatedAt: r.UpdatedAt,
				})
			}
		}
		if req.Wants(types.EntitySkill) {
			recs, err := s.repo.ListSkillsSince(ctx, tx, since)
			if err != nil {
				return fmt.Errorf("pull skills: %w", err)
			}
			for _, r := range recs {
				resp.Skills = append(resp.Skills, types.SkillItem{
					ServerID: int64Ptr(r.ID), SourceID: r.SourceID, Name: r.Name, DisplayName: r.DisplayName,
					Description: r.Description, Version: r.Version, Author: r.Author,
					Tags: r.Tags, Metadata: r.Metadata, UpdatedAt: r.UpdatedAt,
				})
			}
		}
		if req.Wants(types.EntityInstalledSkill) {
			recs, err := s.repo.ListInstalledSkillsSince(ctx, tx, since)
			if err != nil {
				return fmt.Errorf("pull installed skills: %w", err)
			}
			for _, r := range recs {
				resp.InstalledSkills = append(resp.InstalledSkills, types.InstalledSkillItem{
					ServerID: int64Ptr(r.ID), SkillID: r.SkillID, HarnessID: r.HarnessID, Scope: r.Scope,
					ProjectID: r.ProjectID, InstalledPath: r.InstalledPath, PinnedVersion: r.PinnedVersion,
					UpdatedAt: r.UpdatedAt,
				})
			}
		}
		if req.Wants(types.EntityHarnessConfig) {
			recs, err := s.repo.ListHarnessConfigsSince(ctx, tx, since)
			if err != nil {
				return fmt.Errorf("pull harness configs: %w", err)
			}
			for _, r := range recs {
				resp.HarnessConfigs = append(resp.HarnessConfigs, types.HarnessConfigItem{
					ServerID: int64Ptr(r.ID), HarnessID: r.HarnessID, Scope: r.Scope, Kind: r.Kind, Path: r.Path,
					Content: r.Content, ContentHash: r.ContentHash, ProjectID: r.ProjectID, UpdatedAt: r.UpdatedAt,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("pull: since=%v returned=%d", since, resp.Len())
	return resp, nil
}

func int64Ptr(v int64) *int64 { return &v }

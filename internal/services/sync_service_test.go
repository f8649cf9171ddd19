package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"jefe/internal/repos"
	"jefe/pkg/types"
)

func setupTestService(t *testing.T) (*SyncService, *time.Time) {
	t.Helper()
	repo, err := repos.Open("file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewSyncService(repo, nil)
	svc.now = func() time.Time { return clock }
	return svc, &clock
}

func i64(v int64) *int64 { return &v }

func str(v string) *string { return &v }

func TestPushCreatesAndMaps(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	resp, err := svc.Push(ctx, types.PushRequest{
		Projects: []types.ProjectItem{{LocalID: 1, Name: "alpha", UpdatedAt: clock.Add(-time.Hour)}},
		Skills: []types.SkillItem{
			{LocalID: 2, Name: "with-source", SourceID: i64(4), Tags: []string{"go"}, UpdatedAt: *clock},
			{LocalID: 3, Name: "no-source", UpdatedAt: *clock},
		},
		InstalledSkills: []types.InstalledSkillItem{
			{LocalID: 4, SkillID: i64(1), Scope: types.ScopeGlobal, InstalledPath: "/x", UpdatedAt: *clock},
		},
		HarnessConfigs: []types.HarnessConfigItem{
			{LocalID: 5, HarnessID: i64(1), Scope: types.ScopeGlobal, Kind: "settings", Path: "/g", Content: str("{}"), UpdatedAt: *clock},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ProjectsSynced != 1 || resp.SkillsSynced != 1 || resp.InstalledSkillsSynced != 0 || resp.HarnessConfigsSynced != 1 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if len(resp.ServerIDMappings) != 4 {
		t.Fatalf("expected all four mapping keys, got %v", resp.ServerIDMappings)
	}
	if _, ok := resp.ServerIDMappings[types.EntityProject][1]; !ok {
		t.Fatalf("expected mapping for project local 1: %v", resp.ServerIDMappings)
	}
	if _, ok := resp.ServerIDMappings[types.EntitySkill][3]; ok {
		t.Fatalf("skill without source must not be mapped: %v", resp.ServerIDMappings)
	}
	if len(resp.ServerIDMappings[types.EntityInstalledSkill]) != 0 {
		t.Fatalf("installed skill without harness must be skipped: %v", resp.ServerIDMappings)
	}

	pulled, err := svc.Pull(ctx, types.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pulled.Projects) != 1 || !pulled.Projects[0].UpdatedAt.Equal(*clock) {
		t.Fatalf("expected server-stamped project, got %+v", pulled.Projects)
	}
	if len(pulled.Skills) != 1 || len(pulled.Skills[0].Tags) != 1 {
		t.Fatalf("unexpected skills: %+v", pulled.Skills)
	}
}

func TestPushConflictServerNewer(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	created, err := svc.Push(ctx, types.PushRequest{Projects: []types.ProjectItem{{LocalID: 1, Name: "server", UpdatedAt: *clock}}})
	if err != nil {
		t.Fatal(err)
	}
	sid := created.ServerIDMappings[types.EntityProject][1]

	stale := clock.Add(-2 * time.Hour)
	resp, err := svc.Push(ctx, types.PushRequest{Projects: []types.ProjectItem{{LocalID: 9, ServerID: &sid, Name: "client", UpdatedAt: stale}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", resp.Conflicts)
	}
	c := resp.Conflicts[0]
	if c.Resolution != types.ResolutionServerWins || c.ServerID != sid || c.LocalID != 9 || !c.LocalUpdatedAt.Equal(stale) {
		t.Fatalf("unexpected conflict: %+v", c)
	}
	if resp.ProjectsSynced != 1 || resp.ServerIDMappings[types.EntityProject][9] != sid {
		t.Fatalf("conflicted item should still count and map: %+v", resp)
	}

	pulled, err := svc.Pull(ctx, types.PullRequest{EntityTypes: []types.EntityType{types.EntityProject}})
	if err != nil {
		t.Fatal(err)
	}
	if pulled.Projects[0].Name != "server" {
		t.Fatalf("server copy must be kept, got %q", pulled.Projects[0].Name)
	}
}

func TestPushTieOverwrites(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	created, err := svc.Push(ctx, types.PushRequest{Projects: []types.ProjectItem{{LocalID: 1, Name: "v1", UpdatedAt: *clock}}})
	if err != nil {
		t.Fatal(err)
	}
	sid := created.ServerIDMappings[types.EntityProject][1]

	*clock = clock.Add(time.Minute)
	resp, err := svc.Push(ctx, types.PushRequest{Projects: []types.ProjectItem{
		{LocalID: 1, ServerID: &sid, Name: "v2", Description: str("d"), UpdatedAt: clock.Add(-time.Minute)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Conflicts) != 0 || resp.ProjectsSynced != 1 {
		t.Fatalf("equal timestamps must be accepted: %+v", resp)
	}
	pulled, err := svc.Pull(ctx, types.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	p := pulled.Projects[0]
	if p.Name != "v2" || p.Description == nil || *p.Description != "d" || !p.UpdatedAt.Equal(*clock) {
		t.Fatalf("unexpected project after overwrite: %+v", p)
	}
}

func TestPushUnknownServerIDIgnored(t *testing.T) {
	svc, clock := setupTestService(t)
	resp, err := svc.Push(context.Background(), types.PushRequest{
		Skills: []types.SkillItem{{LocalID: 1, ServerID: i64(404), Name: "ghost", UpdatedAt: *clock}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SkillsSynced != 0 || len(resp.ServerIDMappings[types.EntitySkill]) != 0 || len(resp.Conflicts) != 0 {
		t.Fatalf("unexpected response for unknown server id: %+v", resp)
	}
}

func TestPushRollsBackOnFailure(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()
	_, err := svc.Push(ctx, types.PushRequest{
		Projects: []types.ProjectItem{{LocalID: 1, Name: "lost", UpdatedAt: *clock}},
		InstalledSkills: []types.InstalledSkillItem{
			{LocalID: 2, SkillID: i64(1), HarnessID: i64(1), Scope: "team", InstalledPath: "/x", UpdatedAt: *clock},
		},
	})
	if err == nil {
		t.Fatal("expected push to fail on invalid scope")
	}
	pulled, err := svc.Pull(ctx, types.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pulled.Projects) != 0 {
		t.Fatalf("expected rollback of the whole push, got %+v", pulled.Projects)
	}
}

func TestPullSinceAndFilter(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	first := *clock
	if _, err := svc.Push(ctx, types.PushRequest{Projects: []types.ProjectItem{{LocalID: 1, Name: "old", UpdatedAt: first}}}); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(time.Second)
	if _, err := svc.Push(ctx, types.PushRequest{
		Projects:       []types.ProjectItem{{LocalID: 2, Name: "new", UpdatedAt: *clock}},
		HarnessConfigs: []types.HarnessConfigItem{{LocalID: 3, HarnessID: i64(1), Scope: types.ScopeGlobal, Kind: "k", Path: "/p", UpdatedAt: *clock}},
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Pull(ctx, types.PullRequest{LastSynced: &first})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Projects) != 1 || resp.Projects[0].Name != "new" {
		t.Fatalf("expected only records strictly after cursor, got %+v", resp.Projects)
	}
	if !resp.ServerTime.Equal(*clock) {
		t.Fatalf("expected server_time=%v, got %v", *clock, resp.ServerTime)
	}
	if resp.Projects[0].LocalID != 0 {
		t.Fatalf("pull items must not carry local ids: %+v", resp.Projects[0])
	}

	filtered, err := svc.Pull(ctx, types.PullRequest{EntityTypes: []types.EntityType{types.EntityHarnessConfig}})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered.Projects) != 0 || len(filtered.HarnessConfigs) != 1 {
		t.Fatalf("unexpected filtered pull: %+v", filtered)
	}

	if _, err := svc.Pull(ctx, types.PullRequest{EntityTypes: []types.EntityType{"recipe"}}); !errors.Is(err, ErrInvalidEntityType) {
		t.Fatalf("expected ErrInvalidEntityType, got %v", err)
	}
}

func TestPullRunsInTransaction(t *testing.T) {
	svc, clock := setupTestService(t)
	if _, err := svc.Push(context.Background(), types.PushRequest{
		Projects: []types.ProjectItem{{LocalID: 1, Name: "p", UpdatedAt: *clock}},
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := svc.Pull(ctx, types.PullRequest{})
	if err == nil || resp != nil {
		t.Fatalf("expected a cancelled pull to fail without a partial response, got %+v %v", resp, err)
	}

	resp, err = svc.Pull(context.Background(), types.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Projects) != 1 {
		t.Fatalf("expected the connection to be released after a failed pull, got %+v", resp.Projects)
	}
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"jefe/pkg/types"
)

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := setupTestManager(t, clock)
	l := m.Conflicts

	open := &Conflict{
		EntityType:      types.EntityProject,
		LocalID:         1,
		ServerID:        10,
		LocalUpdatedAt:  clock.t.Add(-time.Hour),
		ServerUpdatedAt: clock.t,
		LocalData:       `{"name":"local"}`,
		ServerData:      `{"name":"remote"}`,
	}
	if err := l.Add(ctx, open); err != nil {
		t.Fatal(err)
	}
	if open.ID == 0 || open.Resolution != types.ResolutionUnresolved {
		t.Fatalf("expected id and unresolved default, got %+v", open)
	}
	auto := &Conflict{
		EntityType:      types.EntitySkill,
		LocalID:         2,
		ServerID:        20,
		LocalUpdatedAt:  clock.t,
		ServerUpdatedAt: clock.t,
		Resolution:      types.ResolutionLocalWins,
	}
	if err := l.Add(ctx, auto); err != nil {
		t.Fatal(err)
	}

	unresolved, err := l.Unresolved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != open.ID {
		t.Fatalf("expected only the open conflict, got %+v", unresolved)
	}
	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != auto.ID {
		t.Fatalf("expected both pending newest first, got %+v", pending)
	}

	got, err := l.GetByID(ctx, open.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ServerData != `{"name":"remote"}` || !got.LocalUpdatedAt.Equal(open.LocalUpdatedAt) {
		t.Fatalf("unexpected stored conflict: %+v", got)
	}

	clock.t = clock.t.Add(time.Minute)
	resolved, err := l.Resolve(ctx, open.ID, types.ResolutionServerWins)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(clock.t) {
		t.Fatalf("expected resolved_at=%v, got %v", clock.t, resolved.ResolvedAt)
	}
	if _, err := l.Resolve(ctx, open.ID, types.ResolutionLocalWins); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := l.Resolve(ctx, auto.ID, types.ResolutionUnresolved); !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
	if _, err := l.Resolve(ctx, 999, types.ResolutionLocalWins); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	n, err := l.ClearResolved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	all, err := l.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty ledger, got %+v", all)
	}
}

func TestLedgerClearKeepsUnresolved(t *testing.T) {
	ctx := context.Background()
	m := setupTestManager(t, nil)
	now := time.Now().UTC()
	keep := &Conflict{EntityType: types.EntityHarnessConfig, LocalID: 1, ServerID: 1, LocalUpdatedAt: now, ServerUpdatedAt: now}
	if err := m.Conflicts.Add(ctx, keep); err != nil {
		t.Fatal(err)
	}
	drop := &Conflict{EntityType: types.EntityHarnessConfig, LocalID: 2, ServerID: 2, LocalUpdatedAt: now, ServerUpdatedAt: now, Resolution: types.ResolutionServerWins}
	if err := m.Conflicts.Add(ctx, drop); err != nil {
		t.Fatal(err)
	}
	n, err := m.Conflicts.ClearResolved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}
	if _, err := m.Conflicts.GetByID(ctx, keep.ID); err != nil {
		t.Fatalf("expected unresolved conflict to survive: %v", err)
	}
	ok, err := m.Conflicts.Delete(ctx, keep.ID)
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed, ok=%v err=%v", ok, err)
	}
}

func TestStateCursor(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := setupTestManager(t, clock)

	cur, err := m.State.Cursor(ctx)
	if err != nil || cur != nil {
		t.Fatalf("expected no cursor initially, got %v err=%v", cur, err)
	}
	if err := m.State.MarkError(ctx, "boom"); err != nil {
		t.Fatal(err)
	}
	serverTime := clock.t.Add(-5 * time.Second)
	if err := m.State.MarkPullSuccess(ctx, serverTime); err != nil {
		t.Fatal(err)
	}
	snap, err := m.State.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastSynced == nil || !snap.LastSynced.Equal(serverTime) {
		t.Fatalf("expected cursor=%v, got %v", serverTime, snap.LastSynced)
	}
	if snap.LastPullAt == nil || !snap.LastPullAt.Equal(clock.t) || snap.LastError != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.LastPushAt != nil {
		t.Fatalf("expected no push yet, got %v", snap.LastPushAt)
	}
}

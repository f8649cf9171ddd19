package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jefe/internal/cache"
	"jefe/internal/logging"
	"jefe/pkg/types"
)

var (
	ErrUnreachable       = errors.New("server unreachable")
	ErrAlreadyResolved   = cache.ErrAlreadyResolved
	ErrInvalidResolution = cache.ErrInvalidResolution
)

// Result is the outcome of Push, Pull or Sync. Transport and cache failures
// are reported here rather than as errors.
type Result struct {
	Success      bool             `json:"success"`
	Pushed       int              `json:"pushed"`
	Pulled       int              `json:"pulled"`
	Conflicts    []cache.Conflict `json:"conflicts"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

type Options struct {
	Logger *logging.Logger
	Now    func() time.Time
}

// Protocol drives push and pull between the local cache and the server.
type Protocol struct {
	cache  *cache.Manager
	client *Client
	probe  *Probe
	logger *logging.Logger
	now    func() time.Time
}

func NewProtocol(m *cache.Manager, client *Client, probe *Probe, opts Options) *Protocol {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if probe == nil {
		probe = NewProbe(client, ProbeOptions{Now: opts.Now})
	}
	return &Protocol{cache: m, client: client, probe: probe, logger: opts.Logger, now: opts.Now}
}

func (p *Protocol) Probe() *Probe { return p.probe }

func (p *Protocol) fail(ctx context.Context, op string, err error) Result {
	msg := err.Error()
	if errors.Is(err, ErrUnreachable) {
		msg = fmt.Sprintf("%s at %s", ErrUnreachable, p.client.BaseURL())
		p.logger.Warnf("%s skipped: %s", op, msg)
	} else {
		p.logger.Errorf("%s failed: %v", op, err)
	}
	if serr := p.cache.State.MarkError(ctx, op+": "+msg); serr != nil {
		p.logger.Warnf("record sync error: %v", serr)
	}
	return Result{Success: false, ErrorMessage: msg, Conflicts: []cache.Conflict{}}
}

// Push uploads dirty entities of the given kinds, all kinds when none given.
func (p *Protocol) Push(ctx context.Context, kinds ...types.EntityType) Result {
	kinds = uniqueKinds(kinds)
	if !p.probe.Online(ctx) {
		return p.fail(ctx, "push", ErrUnreachable)
	}
	req, snaps, err := p.collectDirty(ctx, kinds)
	if err != nil {
		return p.fail(ctx, "push", fmt.Errorf("read dirty entities: %w", err))
	}
	if req.Len() == 0 {
		p.logger.Debugf("push: nothing dirty")
		return Result{Success: true, Conflicts: []cache.Conflict{}}
	}
	p.logger.Debugf("push: sending %d items", req.Len())

	resp, err := p.client.Push(ctx, req)
	if err != nil {
		return p.fail(ctx, "push", err)
	}

	out := Result{Success: resp.Success, Pushed: resp.Synced(), Conflicts: make([]cache.Conflict, 0, len(resp.Conflicts))}
	for _, ci := range resp.Conflicts {
		c := cache.Conflict{
			EntityType:      ci.EntityType,
			LocalID:         ci.LocalID,
			ServerID:        ci.ServerID,
			LocalUpdatedAt:  ci.LocalUpdatedAt,
			ServerUpdatedAt: ci.ServerUpdatedAt,
			Resolution:      ci.Resolution,
			LocalData:       snaps[ci.EntityType][ci.LocalID],
		}
		if c.Resolution == "" {
			c.Resolution = types.ResolutionServerWins
		}
		if err := p.cache.Conflicts.Add(ctx, &c); err != nil {
			return p.fail(ctx, "push", err)
		}
		p.logger.Warnf("push conflict: %s local=%d server=%d %s", c.EntityType, c.LocalID, c.ServerID, c.Resolution)
		out.Conflicts = append(out.Conflicts, c)
	}

	for et, mapping := range resp.ServerIDMappings {
		st := p.store(et)
		if st == nil {
			p.logger.Warnf("push: ignoring mappings for unknown kind %q", et)
			continue
		}
		for localID, serverID := range mapping {
			if err := st.SetServerID(ctx, localID, serverID); err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					p.logger.Warnf("push: no cached %s with local id %d", et, localID)
					continue
				}
				return p.fail(ctx, "push", err)
			}
		}
	}

	if !resp.Success {
		return p.merge(out, p.fail(ctx, "push", errors.New("server reported failure")))
	}
	if _, err := p.cache.ClearDirtyKinds(ctx, kinds...); err != nil {
		return p.fail(ctx, "push", err)
	}
	if err := p.cache.State.MarkPushSuccess(ctx); err != nil {
		p.logger.Warnf("record push: %v", err)
	}
	p.logger.Infof("push: %d synced, %d conflicts", out.Pushed, len(out.Conflicts))
	return out
}

// Pull downloads server changes since the cursor and applies them to the cache.
func (p *Protocol) Pull(ctx context.Context, kinds ...types.EntityType) Result {
	if !p.probe.Online(ctx) {
		return p.fail(ctx, "pull", ErrUnreachable)
	}
	cursor, err := p.cache.State.Cursor(ctx)
	if err != nil {
		return p.fail(ctx, "pull", err)
	}
	resp, err := p.client.Pull(ctx, types.PullRequest{LastSynced: cursor, EntityTypes: kinds})
	if err != nil {
		return p.fail(ctx, "pull", err)
	}
	if !resp.Success {
		return p.fail(ctx, "pull", errors.New("server reported failure"))
	}

	out := Result{Success: true, Conflicts: []cache.Conflict{}}
	steps := []func() error{
		func() error {
			return pullKind(ctx, p, p.cache.Projects, resp.Projects,
				func(it types.ProjectItem) *int64 { return it.ServerID },
				func(it types.ProjectItem) time.Time { return it.UpdatedAt }, applyProject, &out)
		},
		func() error {
			return pullKind(ctx, p, p.cache.Skills, resp.Skills,
				func(it types.SkillItem) *int64 { return it.ServerID },
				func(it types.SkillItem) time.Time { return it.UpdatedAt }, applySkill, &out)
		},
		func() error {
			return pullKind(ctx, p, p.cache.InstalledSkills, resp.InstalledSkills,
				func(it types.InstalledSkillItem) *int64 { return it.ServerID },
				func(it types.InstalledSkillItem) time.Time { return it.UpdatedAt }, applyInstalledSkill, &out)
		},
		func() error {
			return pullKind(ctx, p, p.cache.HarnessConfigs, resp.HarnessConfigs,
				func(it types.HarnessConfigItem) *int64 { return it.ServerID },
				func(it types.HarnessConfigItem) time.Time { return it.UpdatedAt }, applyHarnessConfig, &out)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return p.fail(ctx, "pull", err)
		}
	}

	if resp.ServerTime.IsZero() {
		p.logger.Warnf("pull: server sent no server_time; cursor unchanged")
	} else if err := p.cache.State.MarkPullSuccess(ctx, resp.ServerTime.UTC()); err != nil {
		return p.fail(ctx, "pull", err)
	}
	p.logger.Infof("pull: %d records, %d conflicts", out.Pulled, len(out.Conflicts))
	return out
}

// Sync pushes then pulls. A failed push skips the pull.
func (p *Protocol) Sync(ctx context.Context) Result {
	pushed := p.Push(ctx)
	if !pushed.Success {
		return pushed
	}
	return p.merge(pushed, p.Pull(ctx))
}

func (p *Protocol) merge(a, b Result) Result {
	out := Result{
		Success:      a.Success && b.Success,
		Pushed:       a.Pushed + b.Pushed,
		Pulled:       a.Pulled + b.Pulled,
		Conflicts:    append(append([]cache.Conflict{}, a.Conflicts...), b.Conflicts...),
		ErrorMessage: a.ErrorMessage,
	}
	if out.ErrorMessage == "" {
		out.ErrorMessage = b.ErrorMessage
	}
	return out
}

// pullKind applies one kind's pulled records. A dirty local copy is a
// conflict decided by updated_at: the server copy wins only when strictly newer.
func pullKind[T, I any](
	ctx context.Context,
	p *Protocol,
	st *cache.Store[T],
	items []I,
	serverID func(I) *int64,
	updatedAt func(I) time.Time,
	apply func(*T, I),
	out *Result,
) error {
	for _, it := range items {
		sid := serverID(it)
		if sid == nil {
			p.logger.Warnf("pull: %s record without server_id skipped", st.Entity())
			continue
		}
		local, err := st.GetByServerID(ctx, *sid)
		if errors.Is(err, cache.ErrNotFound) {
			var e T
			apply(&e, it)
			if err := st.CacheServerCopy(ctx, &e); err != nil {
				return err
			}
			out.Pulled++
			continue
		}
		if err != nil {
			return err
		}

		env := st.Envelope(local)
		if !env.Dirty {
			apply(local, it)
			if err := st.CacheServerCopy(ctx, local); err != nil {
				return err
			}
			out.Pulled++
			continue
		}

		c := cache.Conflict{
			EntityType:      st.Entity(),
			LocalID:         env.LocalID,
			ServerID:        *sid,
			LocalUpdatedAt:  env.UpdatedAt,
			ServerUpdatedAt: updatedAt(it).UTC(),
			LocalData:       snapshot(local),
			ServerData:      snapshot(it),
		}
		if c.ServerUpdatedAt.After(c.LocalUpdatedAt) {
			c.Resolution = types.ResolutionServerWins
			apply(local, it)
			if err := st.CacheServerCopy(ctx, local); err != nil {
				return err
			}
		} else {
			c.Resolution = types.ResolutionLocalWins
		}
		if err := p.cache.Conflicts.Add(ctx, &c); err != nil {
			return err
		}
		p.logger.Warnf("pull conflict: %s local=%d server=%d %s", c.EntityType, c.LocalID, c.ServerID, c.Resolution)
		out.Conflicts = append(out.Conflicts, c)
		out.Pulled++
	}
	return nil
}

// Resolve settles a ledger record. local_wins restores the local snapshot and
// re-dirties the cached entity with a fresh updated_at so the next push
// overrides the server; server_wins applies the stored server snapshot when
// there is one.
func (p *Protocol) Resolve(ctx context.Context, conflictID int64, choice types.Resolution) (*cache.Conflict, error) {
	if choice != types.ResolutionLocalWins && choice != types.ResolutionServerWins {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, choice)
	}
	c, err := p.cache.Conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.ResolvedAt != nil {
		return c, ErrAlreadyResolved
	}

	switch c.EntityType {
	case types.EntityProject:
		err = resolveKind(ctx, p, p.cache.Projects, c, choice, applyProject)
	case types.EntitySkill:
		err = resolveKind(ctx, p, p.cache.Skills, c, choice, applySkill)
	case types.EntityInstalledSkill:
		err = resolveKind(ctx, p, p.cache.InstalledSkills, c, choice, applyInstalledSkill)
	case types.EntityHarnessConfig:
		err = resolveKind(ctx, p, p.cache.HarnessConfigs, c, choice, applyHarnessConfig)
	default:
		err = fmt.Errorf("unknown entity type %q", c.EntityType)
	}
	if err != nil {
		return nil, err
	}
	return p.cache.Conflicts.Resolve(ctx, conflictID, choice)
}

func resolveKind[T, I any](ctx context.Context, p *Protocol, st *cache.Store[T], c *cache.Conflict, choice types.Resolution, apply func(*T, I)) error {
	local, err := st.GetByID(ctx, c.LocalID)
	if errors.Is(err, cache.ErrNotFound) {
		local = nil
	} else if err != nil {
		return err
	}

	if choice == types.ResolutionLocalWins {
		if c.LocalData != "" {
			var restored T
			if err := json.Unmarshal([]byte(c.LocalData), &restored); err != nil {
				return fmt.Errorf("decode local snapshot of conflict %d: %w", c.ID, err)
			}
			if local != nil {
				*st.Envelope(&restored) = *st.Envelope(local)
			}
			local = &restored
		}
		if local == nil {
			p.logger.Warnf("resolve %d: cached %s %d is gone", c.ID, c.EntityType, c.LocalID)
			return nil
		}
		st.Envelope(local).UpdatedAt = p.now().UTC()
		return st.MarkDirty(ctx, local)
	}

	if c.ServerData == "" {
		return nil
	}
	var it I
	if err := json.Unmarshal([]byte(c.ServerData), &it); err != nil {
		return fmt.Errorf("decode server snapshot of conflict %d: %w", c.ID, err)
	}
	var e T
	if local != nil {
		e = *local
	}
	apply(&e, it)
	if st.Envelope(&e).ServerID == nil {
		sid := c.ServerID
		st.Envelope(&e).ServerID = &sid
	}
	return st.CacheServerCopy(ctx, &e)
}

// uniqueKinds drops repeated kinds, keeping first-seen order. None means all.
func uniqueKinds(kinds []types.EntityType) []types.EntityType {
	if len(kinds) == 0 {
		return types.AllEntityTypes
	}
	seen := make(map[types.EntityType]bool, len(kinds))
	out := make([]types.EntityType, 0, len(kinds))
	for _, et := range kinds {
		if seen[et] {
			continue
		}
		seen[et] = true
		out = append(out, et)
	}
	return out
}

type kindStore interface {
	SetServerID(ctx context.Context, localID, serverID int64) error
	CountDirty(ctx context.Context) (int, error)
}

func (p *Protocol) store(et types.EntityType) kindStore {
	switch et {
	case types.EntityProject:
		return p.cache.Projects
	case types.EntitySkill:
		return p.cache.Skills
	case types.EntityInstalledSkill:
		return p.cache.InstalledSkills
	case types.EntityHarnessConfig:
		return p.cache.HarnessConfigs
	}
	return nil
}

// collectDirty builds the push payload and a local snapshot per pushed entity.
func (p *Protocol) collectDirty(ctx context.Context, kinds []types.EntityType) (types.PushRequest, map[types.EntityType]map[int64]string, error) {
	req := types.PushRequest{
		Projects:        []types.ProjectItem{},
		Skills:          []types.SkillItem{},
		InstalledSkills: []types.InstalledSkillItem{},
		HarnessConfigs:  []types.HarnessConfigItem{},
	}
	snaps := map[types.EntityType]map[int64]string{}
	for _, et := range kinds {
		if _, seen := snaps[et]; seen {
			continue
		}
		snaps[et] = map[int64]string{}
		switch et {
		case types.EntityProject:
			dirty, err := p.cache.Projects.GetDirty(ctx)
			if err != nil {
				return req, nil, err
			}
			for _, e := range dirty {
				req.Projects = append(req.Projects, projectItem(e))
				snaps[et][e.LocalID] = snapshot(e)
			}
		case types.EntitySkill:
			dirty, err := p.cache.Skills.GetDirty(ctx)
			if err != nil {
				return req, nil, err
			}
			for _, e := range dirty {
				req.Skills = append(req.Skills, skillItem(e))
				snaps[et][e.LocalID] = snapshot(e)
			}
		case types.EntityInstalledSkill:
			dirty, err := p.cache.InstalledSkills.GetDirty(ctx)
			if err != nil {
				return req, nil, err
			}
			for _, e := range dirty {
				req.InstalledSkills = append(req.InstalledSkills, installedSkillItem(e))
				snaps[et][e.LocalID] = snapshot(e)
			}
		case types.EntityHarnessConfig:
			dirty, err := p.cache.HarnessConfigs.GetDirty(ctx)
			if err != nil {
				return req, nil, err
			}
			for _, e := range dirty {
				req.HarnessConfigs = append(req.HarnessConfigs, harnessConfigItem(e))
				snaps[et][e.LocalID] = snapshot(e)
			}
		default:
			return req, nil, fmt.Errorf("unknown entity type %q", et)
		}
	}
	return req, snaps, nil
}

// Status describes local sync state without contacting the server beyond the probe.
type Status struct {
	Online    bool                     `json:"online"`
	ServerURL string                   `json:"server_url"`
	State     cache.SyncStatus         `json:"state"`
	Dirty     map[types.EntityType]int `json:"dirty"`
}

func (p *Protocol) Status(ctx context.Context) (Status, error) {
	out := Status{
		Online:    p.probe.Online(ctx),
		ServerURL: p.client.BaseURL(),
		Dirty:     map[types.EntityType]int{},
	}
	var err error
	if out.State, err = p.cache.State.Snapshot(ctx); err != nil {
		return out, err
	}
	for _, et := range types.AllEntityTypes {
		n, err := p.store(et).CountDirty(ctx)
		if err != nil {
			return out, err
		}
		out.Dirty[et] = n
	}
	return out, nil
}

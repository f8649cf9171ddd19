package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"jefe/internal/cache"
	"jefe/internal/cloudsync"
	"jefe/pkg/types"
)

func newSyncCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull server changes",
		Long: `Push every dirty cached entity to the server, then pull everything the
server changed since the last successful pull.

Examples:
  jefe sync                     # Full sync
  jefe sync push                # Upload local changes only
  jefe sync pull                # Download server changes only
  jefe sync status              # Show pending changes without syncing
  jefe sync conflicts           # List conflicts awaiting review
  jefe sync resolve 3 --keep-local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd, "sync")
		},
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "push",
			Short: "Upload dirty cached entities",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runSync(cmd, "push")
			},
		},
		&cobra.Command{
			Use:   "pull",
			Short: "Download server changes since the last pull",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runSync(cmd, "pull")
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show connectivity and pending local changes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runStatus(cmd)
			},
		},
		newConflictsCmd(a),
		newResolveCmd(a),
	)
	return c
}

func (a *app) runSync(cmd *cobra.Command, op string) error {
	p, m, err := a.session()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx := cmd.Context()
	if !p.Probe().Online(ctx) {
		return exitf("Unable to reach server at %s.", a.cfg.ServerURL)
	}

	var res cloudsync.Result
	switch op {
	case "push":
		res = p.Push(ctx)
	case "pull":
		res = p.Pull(ctx)
	default:
		res = p.Sync(ctx)
	}
	if !res.Success {
		return exitf("%s\n  %s", fail(strings.ToUpper(op[:1])+op[1:]+" failed."), res.ErrorMessage)
	}

	out := cmd.OutOrStdout()
	if op != "pull" {
		if res.Pushed == 0 {
			fmt.Fprintln(out, "No changes to push.")
		} else {
			fmt.Fprintln(out, ok(fmt.Sprintf("Pushed %d items.", res.Pushed)))
		}
	}
	if op != "push" {
		if res.Pulled == 0 {
			fmt.Fprintln(out, "No new changes from server.")
		} else {
			fmt.Fprintln(out, ok(fmt.Sprintf("Pulled %d items.", res.Pulled)))
		}
	}
	if op == "sync" {
		fmt.Fprintln(out, ok("Sync complete."))
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintln(out)
		conflictTable(out, fmt.Sprintf("Conflicts (%d)", len(res.Conflicts)), res.Conflicts)
		fmt.Fprintln(out, dimStyle.Render("Review with 'jefe sync conflicts' and settle with 'jefe sync resolve <id>'."))
	}
	return nil
}

func (a *app) runStatus(cmd *cobra.Command) error {
	p, m, err := a.session()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx := cmd.Context()
	st, err := p.Status(ctx)
	if err != nil {
		return err
	}
	dirty, err := m.AllDirty(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if st.Online {
		fmt.Fprintln(out, ok("Online: "+st.ServerURL))
	} else {
		fmt.Fprintln(out, warnStyle.Render("Offline: "+st.ServerURL+" is unreachable"))
	}
	fmt.Fprintf(out, "Last synced: %s\n", stamp(st.State.LastSynced))
	if st.State.LastError != "" {
		fmt.Fprintf(out, "Last error:  %s\n", failStyle.Render(st.State.LastError))
	}
	fmt.Fprintln(out)

	if dirty.Len() == 0 {
		fmt.Fprintln(out, "No pending changes.")
		return nil
	}
	labels := map[types.EntityType][]string{}
	for _, e := range dirty.Projects {
		labels[types.EntityProject] = append(labels[types.EntityProject], e.Name)
	}
	for _, e := range dirty.Skills {
		labels[types.EntitySkill] = append(labels[types.EntitySkill], e.Name)
	}
	for _, e := range dirty.InstalledSkills {
		labels[types.EntityInstalledSkill] = append(labels[types.EntityInstalledSkill], e.InstalledPath)
	}
	for _, e := range dirty.HarnessConfigs {
		labels[types.EntityHarnessConfig] = append(labels[types.EntityHarnessConfig], e.Path)
	}
	var rows [][]string
	for _, et := range types.AllEntityTypes {
		if st.Dirty[et] == 0 {
			continue
		}
		rows = append(rows, []string{string(et), strconv.Itoa(st.Dirty[et]), preview(labels[et], 3)})
	}
	table(out, fmt.Sprintf("Pending changes (%d)", dirty.Len()), []string{"KIND", "COUNT", "ITEMS"}, rows)
	return nil
}

func preview(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(items[:limit], ", "), len(items)-limit)
}

func conflictTable(w io.Writer, title string, cs []cache.Conflict) {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		resolved := "pending"
		if c.ResolvedAt != nil {
			resolved = stamp(c.ResolvedAt)
		}
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			string(c.EntityType),
			strconv.FormatInt(c.LocalID, 10),
			strconv.FormatInt(c.ServerID, 10),
			string(c.Resolution),
			stamp(&c.LocalUpdatedAt),
			stamp(&c.ServerUpdatedAt),
			resolved,
		})
	}
	table(w, title, []string{"ID", "KIND", "LOCAL", "SERVER", "RESOLUTION", "LOCAL UPDATED", "SERVER UPDATED", "RESOLVED"}, rows)
}

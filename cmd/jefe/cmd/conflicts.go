package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jefe/internal/cache"
	"jefe/internal/cloudsync"
	"jefe/pkg/types"
)

func newConflictsCmd(a *app) *cobra.Command {
	var all bool
	c := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts awaiting review",
		Long: `List conflicts recorded by push and pull that have not been resolved yet.
Conflicts are settled automatically by updated_at; review them here and
override the outcome with 'jefe sync resolve'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, m, err := a.session()
			if err != nil {
				return err
			}
			defer m.Close()

			var cs []cache.Conflict
			if all {
				cs, err = m.Conflicts.All(cmd.Context())
			} else {
				cs, err = m.Conflicts.Pending(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cs) == 0 {
				fmt.Fprintln(out, "No conflicts.")
				return nil
			}
			conflictTable(out, fmt.Sprintf("Conflicts (%d)", len(cs)), cs)
			return nil
		},
	}
	c.Flags().BoolVarP(&all, "all", "a", false, "include resolved conflicts")

	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete decided conflicts",
		Long: `Delete every conflict that has an outcome. This includes conflicts settled
automatically by push or pull that were never reviewed with 'jefe sync resolve';
run 'jefe sync conflicts' first to check them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, m, err := a.session()
			if err != nil {
				return err
			}
			defer m.Close()

			pending, err := m.Conflicts.Pending(cmd.Context())
			if err != nil {
				return err
			}
			unreviewed := 0
			for _, c := range pending {
				if c.Resolution != types.ResolutionUnresolved {
					unreviewed++
				}
			}

			n, err := m.Conflicts.ClearResolved(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ok(fmt.Sprintf("Cleared %d resolved conflicts.", n)))
			if unreviewed > 0 {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d of them had not been reviewed.", unreviewed)))
			}
			return nil
		},
	})
	return c
}

func newResolveCmd(a *app) *cobra.Command {
	var keepLocal, keepServer bool
	c := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Settle a conflict by keeping the local or the server copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return exitf("Invalid conflict id %q.", args[0])
			}
			if keepLocal == keepServer {
				return exitf("Specify exactly one of --keep-local or --keep-server.")
			}
			choice := types.ResolutionServerWins
			if keepLocal {
				choice = types.ResolutionLocalWins
			}

			p, m, err := a.session()
			if err != nil {
				return err
			}
			defer m.Close()

			resolved, err := p.Resolve(cmd.Context(), id, choice)
			switch {
			case errors.Is(err, cache.ErrNotFound):
				return exitf("Conflict %d not found.", id)
			case errors.Is(err, cloudsync.ErrAlreadyResolved):
				return exitf("Conflict %d is already resolved.", id)
			case err != nil:
				return exitf("%s\n  %v", fail("Resolve failed."), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ok(fmt.Sprintf("Resolved conflict %d (%s %d): %s.", resolved.ID, resolved.EntityType, resolved.LocalID, resolved.Resolution)))
			if choice == types.ResolutionLocalWins {
				fmt.Fprintln(out, dimStyle.Render("Run 'jefe sync push' to upload the local copy."))
			}
			return nil
		},
	}
	c.Flags().BoolVar(&keepLocal, "keep-local", false, "keep the cached copy and push it again")
	c.Flags().BoolVar(&keepServer, "keep-server", false, "keep the server copy")
	return c
}

package cmd

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"jefe/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Show or change client configuration",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with the API key masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var buf bytes.Buffer
				if err := toml.NewEncoder(&buf).Encode(a.cfg.Masked()); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, dimStyle.Render("# "+a.path()))
				_, err := out.Write(buf.Bytes())
				return err
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Update one key in the config file",
			Long: `Update one key in the config file. Keys:
  server_url, api_key, cache_path, cache_ttl_seconds, request_timeout_seconds,
  probe_timeout_seconds, probe_ttl_seconds, log_level, log_file`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.path()
				cfg, err := config.LoadFile(path)
				if err != nil {
					return err
				}
				if err := config.Set(&cfg, args[0], args[1]); err != nil {
					return exitf("%v", err)
				}
				if err := config.Save(path, cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok(fmt.Sprintf("Set %s in %s.", args[0], path)))
				return nil
			},
		},
	)
	return c
}

func (a *app) path() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.Path()
}

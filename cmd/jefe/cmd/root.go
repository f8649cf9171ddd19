package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jefe/internal/cache"
	"jefe/internal/clients"
	"jefe/internal/cloudsync"
	"jefe/internal/config"
	"jefe/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

// ExitError is an error whose Message is printed as is before exiting with Code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitf(format string, args ...any) *ExitError {
	return &ExitError{Code: 1, Message: fmt.Sprintf(format, args...)}
}

type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *logging.Logger
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "jefe",
		Short: "Sync skills and harness config with a jefe server",
		Long: `jefe keeps a local cache of projects, skills, installed skills and harness
configs, and synchronises it with a jefe server when one is reachable.

Edits are made offline against the cache and pushed on the next sync.
Divergent edits are settled by updated_at and recorded as conflicts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $JEFE_CONFIG or ~/.config/jefe/config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.Version = Version
	root.SetVersionTemplate("jefe {{.Version}}\n")

	root.AddCommand(newSyncCmd(a), newConfigCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.logger = logging.NewWithFile(level, cfg.LogFile)
	return nil
}

// session opens the cache and builds a protocol for the configured server.
// The caller closes the returned manager.
func (a *app) session() (*cloudsync.Protocol, *cache.Manager, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return nil, nil, exitf("No API key configured.\n  Run 'jefe config set api_key <key>' or set JEFE_API_KEY.")
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.CachePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	m, err := cache.Open(a.cfg.CachePath, cache.Options{TTL: seconds(a.cfg.CacheTTLSeconds)})
	if err != nil {
		return nil, nil, fmt.Errorf("open cache %s: %w", a.cfg.CachePath, err)
	}
	client := cloudsync.NewClient(clients.NewHTTPClient(seconds(a.cfg.RequestTimeoutSeconds)), a.cfg.ServerURL, a.cfg.APIKey)
	probe := cloudsync.NewProbe(client, cloudsync.ProbeOptions{
		Timeout: seconds(a.cfg.ProbeTimeoutSeconds),
		TTL:     seconds(a.cfg.ProbeTTLSeconds),
	})
	return cloudsync.NewProtocol(m, client, probe, cloudsync.Options{Logger: a.logger}), m, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zkbclient/pkg/buildinfo"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "zkb"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	cfg   *Config
	flags globalFlags
}

// globalFlags are the persistent flags that override config.toml.
type globalFlags struct {
	config   string
	offline  bool
	store    string
	cacheDir string
	baseURL  string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "zkb fetches zKillboard API resources through a persistent cache",
		Long: `zkb is a client for the zKillboard API. Responses are cached and
revalidated with If-Modified-Since, permanent denials (403/404) are
remembered, and transient failures are retried with bounded budgets.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		PersistentPreRunE: c.preRun,
	}

	root.SetVersionTemplate(buildinfo.Template())

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.config, "config", "", "config file (default ~/.config/zkb/config.toml)")
	pf.BoolVar(&c.flags.offline, "offline", false, "serve from the cache only, never touch the network")
	pf.StringVar(&c.flags.store, "store", "", "cache backend: file, sqlite, redis, mongo or none")
	pf.StringVar(&c.flags.cacheDir, "cache-dir", "", "directory for the file backend")
	pf.StringVar(&c.flags.baseURL, "base-url", "", "API base URL")

	root.AddCommand(c.fetchCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// preRun reads the config file and applies flag overrides. An explicit
// --config must exist; the default location is optional.
func (c *CLI) preRun(cmd *cobra.Command, args []string) error {
	path, required := c.flags.config, true
	if path == "" {
		required = false
		if p, err := configPath(); err == nil {
			path = p
		}
	}

	cfg, err := loadConfig(path, required)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("offline") {
		cfg.Offline = c.flags.offline
	}
	if flags.Changed("store") {
		cfg.Store.Backend = c.flags.store
	}
	if flags.Changed("cache-dir") {
		cfg.Store.Dir = c.flags.cacheDir
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = c.flags.baseURL
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	c.cfg = cfg
	cmd.SetContext(withLogger(cmd.Context(), c.Logger))
	c.Logger.Debug("config loaded", "path", path, "store", cfg.Store.Backend, "offline", cfg.Offline)
	return nil
}

// config returns the loaded config, falling back to defaults when the
// command ran without the root pre-run (as in tests).
func (c *CLI) config() *Config {
	if c.cfg == nil {
		c.cfg = defaultConfig()
	}
	return c.cfg
}

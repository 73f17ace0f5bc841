package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/henkan/dictionary"
	"github.com/happyhackingspace/henkan/internal/config"
)

// CLI encapsulates the command-line interface with its dependencies.
type CLI struct {
	version     string
	verbose     bool
	silent      bool
	configPath  string
	cfg         *config.Config
	initialized bool
	rootCmd     *cobra.Command
	stdout      io.Writer
	stderr      io.Writer
}

// New creates a new CLI instance with the given version string.
func New(version string) *CLI {
	c := &CLI{version: version, stdout: os.Stdout, stderr: os.Stderr}
	c.setupCommands()
	return c
}

// setupCommands initializes all CLI commands and their configurations.
func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:           "henkan",
		Short:         "CRF bunsetsu segmentation and kana to kanji conversion",
		Version:       c.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initApp()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	c.rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose/debug output")
	c.rootCmd.PersistentFlags().BoolVarP(&c.silent, "silent", "s", false, "Suppress all logging")
	c.rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to config file (default: $HENKAN_CONFIG or ./henkan.yaml)")

	c.rootCmd.AddCommand(c.newTrainCommand())
	c.rootCmd.AddCommand(c.newExtractCommand())
	c.rootCmd.AddCommand(c.newTestCommand())
	c.rootCmd.AddCommand(c.newStatsCommand())
	c.rootCmd.AddCommand(c.newEvaluateCommand())
	c.rootCmd.AddCommand(c.newConvertCommand())
	c.rootCmd.AddCommand(c.newMaterialsCommand())
	c.rootCmd.AddCommand(c.newDictCommand())
	c.rootCmd.AddCommand(c.newUpCommand())
}

// Run executes the CLI and returns any error.
func (c *CLI) Run() error {
	err := c.rootCmd.Execute()
	if err != nil {
		slog.Error("Command failed", "error", err)
	}
	return err
}

// initApp loads the configuration and installs the logger.
func (c *CLI) initApp() error {
	if c.initialized {
		return nil
	}
	c.initialized = true

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	slog.SetDefault(newLogger(cfg.Log, c.verbose, c.silent, c.stderr))
	slog.Debug("Configuration loaded", "config", c.configPath)
	return nil
}

func newLogger(cfg config.LogConfig, verbose, silent bool, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	if silent {
		level = slog.Level(100)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dictionaries returns the configured dictionary paths, overridden by
// flag values when any were given.
func (c *CLI) dictionaries(flagPaths []string) []dictionary.Source {
	paths := c.cfg.Paths.Dictionaries
	if len(flagPaths) > 0 {
		paths = flagPaths
	}
	return dictionary.SourcesFor(paths)
}

// corpus returns args, or the configured corpus paths when args is empty.
func (c *CLI) corpus(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return c.cfg.Paths.Corpus
}

func orDefault(flag, def string) string {
	if flag != "" {
		return flag
	}
	return def
}

package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/musicpd/depbuild/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	manifestPath string
	rootDir      string
	verbose      bool
	logFormat    string
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "depbuild",
	Short: "depbuild builds pinned third-party C/C++ libraries",
	Long: `depbuild downloads, verifies, patches and builds the third-party libraries
listed in a manifest into a static install prefix, once per target platform.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Configuration file (default $DEPBUILD_CONFIG)")
	flags.StringVarP(&manifestPath, "manifest", "m", "", "Dependency manifest (default: built-in)")
	flags.StringVar(&rootDir, "root", "", "Work directory for downloads, sources and prefixes")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logs and stream build output")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

func setup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logFormat, verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if manifestPath != "" {
		c.Manifest = manifestPath
	}
	if rootDir != "" {
		c.Paths.Root = rootDir
	}
	cfg = c
	return nil
}

func newLogger(format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.Enable = isTerminal(os.Stderr)
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

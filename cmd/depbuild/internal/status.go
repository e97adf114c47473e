package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"github.com/musicpd/depbuild/internal/build"
	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/spf13/cobra"
)

var (
	statusTargets []string
	statusPrefix  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which dependencies are installed",
	Long: `Status reports, per target, whether each dependency's artifact is present in
the install prefix, and whether the installed build is older than the manifest.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringArrayVarP(&statusTargets, "target", "t", nil, "Target os-arch (repeatable, default host)")
	statusCmd.Flags().StringVar(&statusPrefix, "prefix", "", "Install prefix (single target only)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	targets, err := resolveTargets(statusTargets)
	if err != nil {
		return err
	}
	color.Enable = isTerminal(os.Stdout)
	for _, t := range targets {
		prefix := statusPrefix
		if prefix == "" {
			prefix = prefixOf(t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", color.Bold.Sprint(t), prefix)
		printStatus(cmd.OutOrStdout(), build.NewCache(prefix), m.Dependencies())
	}
	return nil
}

func printStatus(w io.Writer, c *build.Cache, deps []manifest.Dependency) {
	var installed int
	for _, d := range deps {
		st, rec := c.Status(d)
		var label string
		switch st {
		case build.StatusInstalled:
			installed++
			label = color.Success.Sprint(st)
		case build.StatusOutdated:
			label = color.Warn.Sprintf("%s (have %s)", st, rec.Version)
		default:
			label = color.Danger.Sprint(st)
		}
		fmt.Fprintf(w, "  %-20s %-12s %s\n", d.Name, d.Version, label)
	}
	fmt.Fprintf(w, "  %d of %d installed\n", installed, len(deps))
}

package internal

import (
	"errors"
	"fmt"

	"github.com/musicpd/depbuild/internal/build"
	"github.com/spf13/cobra"
)

var (
	buildTargets []string
	buildPrefix  string
	buildOnly    []string
	buildDryRun  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the manifest's dependencies",
	Long: `Build fetches, unpacks, patches, configures, builds and installs every
dependency of the manifest whose artifact is missing from the install prefix.

Targets given with --target are built concurrently, each in its own work
directory and prefix. Within a target, dependencies are built in manifest order
and the first failure stops the target.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringArrayVarP(&buildTargets, "target", "t", nil, "Target os-arch to build for (repeatable, default host)")
	buildCmd.Flags().StringVar(&buildPrefix, "prefix", "", "Install prefix (single target only)")
	buildCmd.Flags().StringSliceVar(&buildOnly, "only", nil, "Only build these dependencies and what they require")
	buildCmd.Flags().BoolVarP(&buildDryRun, "dry-run", "n", false, "Print what would be built and exit")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := loadManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	deps, err := selectDeps(m, buildOnly)
	if err != nil {
		return err
	}
	targets, err := resolveTargets(buildTargets)
	if err != nil {
		return err
	}
	if buildPrefix != "" && len(targets) > 1 {
		return errors.New("--prefix cannot be used with more than one target")
	}

	f, err := newFetcher(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up downloads: %w", err)
	}
	runs := make([]*build.Orchestrator, len(targets))
	for i, t := range targets {
		runs[i], err = newOrchestrator(f, t, buildPrefix)
		if err != nil {
			return err
		}
	}

	if buildDryRun {
		out := cmd.OutOrStdout()
		for _, o := range runs {
			pending := o.Pending(deps)
			fmt.Fprintf(out, "%s: %d of %d to build\n", o.Target(), len(pending), len(deps))
			for _, d := range pending {
				fmt.Fprintf(out, "  %s\n", d)
			}
		}
		return nil
	}

	if err := build.RunTargets(ctx, runs, deps); err != nil {
		return err
	}
	if len(runs) == 1 {
		fmt.Fprintln(cmd.OutOrStdout(), runs[0].Cache().Prefix())
	}
	return nil
}

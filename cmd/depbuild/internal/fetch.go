package internal

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	fetchOnly        []string
	fetchConcurrency int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and verify source archives",
	Long:  `Fetch downloads the archives of the manifest into the download cache and verifies their checksums, without building anything.`,
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchOnly, "only", nil, "Only fetch these dependencies and what they require")
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "jobs", "j", 4, "Number of concurrent downloads")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := loadManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	deps, err := selectDeps(m, fetchOnly)
	if err != nil {
		return err
	}
	f, err := newFetcher(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up downloads: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(fetchConcurrency, 1))
	for _, d := range deps {
		g.Go(func() error {
			path, err := f.Fetch(ctx, d.URL, d.Checksum)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			slog.Debug("fetched", "dependency", d.Name, "path", path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d archives in %s\n", len(deps), cfg.DownloadDir())
	return nil
}


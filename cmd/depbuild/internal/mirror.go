package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/musicpd/depbuild/internal/fetch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage the source archive mirror",
	Long: `Mirror manages the S3-compatible bucket configured in the mirror section of
the configuration. Builds download from the mirror before the upstream URL.`,
}

var mirrorOnly []string

var mirrorPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload verified archives to the mirror",
	Args:  cobra.NoArgs,
	RunE:  runMirrorPush,
}

var mirrorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mirrored archives",
	Args:  cobra.NoArgs,
	RunE:  runMirrorList,
}

func init() {
	mirrorPushCmd.Flags().StringSliceVar(&mirrorOnly, "only", nil, "Only push these dependencies and what they require")
	mirrorCmd.AddCommand(mirrorPushCmd, mirrorListCmd)
	rootCmd.AddCommand(mirrorCmd)
}

var errNoMirror = errors.New("no mirror configured: set mirror.bucket or DEPBUILD_MIRROR_BUCKET")

func runMirrorPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mirror, err := newMirror(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errNoMirror
	}
	m, err := loadManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	deps, err := selectDeps(m, mirrorOnly)
	if err != nil {
		return err
	}
	f, err := newFetcher(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up downloads: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, d := range deps {
		g.Go(func() error {
			key := fetch.CacheName(d.URL, d.Checksum)
			has, err := mirror.Has(ctx, key)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			if has {
				slog.Debug("already mirrored", "dependency", d.Name, "key", key)
				return nil
			}
			// only verified archives are uploaded
			path, err := f.Fetch(ctx, d.URL, d.Checksum)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			if err := mirror.Put(ctx, key, path); err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			slog.Info("mirrored", "dependency", d.Name, "key", key)
			return nil
		})
	}
	return g.Wait()
}

func runMirrorList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mirror, err := newMirror(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errNoMirror
	}
	objects, err := mirror.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, o := range objects {
		fmt.Fprintf(w, "%s\t%d\n", o.Key, o.Size)
	}
	return w.Flush()
}

package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cleanTargets   []string
	cleanDownloads bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build trees and install prefixes",
	Long: `Clean removes the work directory of each target: unpacked sources, build
directories and the install prefix. The download cache is kept unless
--downloads is given.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().StringArrayVarP(&cleanTargets, "target", "t", nil, "Target os-arch to clean (repeatable, default host)")
	cleanCmd.Flags().BoolVar(&cleanDownloads, "downloads", false, "Also remove the download cache")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	targets, err := resolveTargets(cleanTargets)
	if err != nil {
		return err
	}
	dirs := make([]string, 0, len(targets)+1)
	for _, t := range targets {
		dirs = append(dirs, cfg.TargetDir(t))
	}
	if cleanDownloads {
		dirs = append(dirs, cfg.DownloadDir())
	}
	for _, dir := range dirs {
		slog.Info("removing", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clean: %w", err)
		}
	}
	return nil
}

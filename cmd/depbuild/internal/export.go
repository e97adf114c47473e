package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"
)

var (
	exportTarget string
	exportPrefix string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an install prefix",
	Long: `Export copies the install prefix of a target to a directory, or packs it into
a zip archive when the output ends in .zip.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportTarget, "target", "t", "", "Target os-arch (default host)")
	exportCmd.Flags().StringVar(&exportPrefix, "prefix", "", "Install prefix to export")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output path (directory or .zip file)")
	exportCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	src := exportPrefix
	if src == "" {
		var names []string
		if exportTarget != "" {
			names = []string{exportTarget}
		}
		targets, err := resolveTargets(names)
		if err != nil {
			return err
		}
		src = prefixOf(targets[0])
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("nothing to export: %w", err)
	}
	dest, err := filepath.Abs(exportOutput)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	if err := outputResult(src, dest); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), dest)
	return nil
}

// outputResult writes the prefix at srcDir to dest.
// If dest ends with ".zip", creates a zip archive; otherwise copies the directory.
func outputResult(srcDir, dest string) error {
	if strings.HasSuffix(dest, ".zip") {
		return zipDir(srcDir, dest)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%s already exists", dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.CopyFS(dest, os.DirFS(srcDir))
}

// zipDir creates a zip archive at dest from the regular files of srcDir.
func zipDir(srcDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Package patch modifies unpacked source trees before they are built.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/google/renameio"
	"github.com/musicpd/depbuild/internal/manifest"
)

// PatchError reports a patch file or edit rule that could not be applied.
type PatchError struct {
	Patch string
	Edit  string
	File  string
	Err   error
}

func (e *PatchError) Error() string {
	if e.Edit != "" {
		return fmt.Sprintf("edit %s on %s: %v", e.Edit, e.File, e.Err)
	}
	if e.File != "" {
		return fmt.Sprintf("patch %s: %s: %v", e.Patch, e.File, e.Err)
	}
	return fmt.Sprintf("patch %s: %v", e.Patch, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Applier applies patch directories and edit rules.
type Applier struct {
	Logger *slog.Logger
}

// Files returns the patches in dir in application order: regular,
// non-hidden files sorted by name. An empty dir yields no patches.
func Files(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Apply applies every patch in patchDir to the tree at dir, then the edits
// in order.
func (a *Applier) Apply(dir, patchDir string, edits []manifest.Edit) error {
	patches, err := Files(patchDir)
	if err != nil {
		return &PatchError{Patch: patchDir, Err: err}
	}
	for _, p := range patches {
		if err := applyPatch(dir, p); err != nil {
			return err
		}
		a.debug("applied patch", "patch", filepath.Base(p))
	}
	for _, e := range edits {
		if err := applyEdit(dir, e); err != nil {
			return err
		}
		a.debug("applied edit", "edit", e.Name, "file", e.File)
	}
	return nil
}

func (a *Applier) debug(msg string, args ...any) {
	if a.Logger != nil {
		a.Logger.Debug(msg, args...)
	}
}

func applyPatch(dir, patchFile string) error {
	name := filepath.Base(patchFile)
	data, err := os.ReadFile(patchFile)
	if err != nil {
		return &PatchError{Patch: name, Err: err}
	}

	files, _, err := gitdiff.Parse(bytes.NewReader(data))
	if err != nil {
		return &PatchError{Patch: name, Err: err}
	}
	if len(files) == 0 {
		return &PatchError{Patch: name, Err: errors.New("no file changes found")}
	}
	// git headers arrive with their a/ and b/ prefixes removed
	strip := 0
	if !isGitDiff(data) {
		strip = stripLevel(dir, files)
	}
	for _, fd := range files {
		if err := applyFile(dir, fd, strip); err != nil {
			return &PatchError{Patch: name, File: displayName(fd), Err: err}
		}
	}
	return nil
}

func isGitDiff(data []byte) bool {
	return bytes.HasPrefix(data, []byte("diff --git ")) || bytes.Contains(data, []byte("\ndiff --git "))
}

// stripLevel returns the number of leading path components to drop from
// the names of a traditional diff, like the -p option of patch(1). It is
// the smallest level at which every modified or deleted file exists. A
// patch that only creates files uses level 1 when all its names have a
// directory prefix.
func stripLevel(dir string, files []*gitdiff.File) int {
	var existing, created []string
	for _, fd := range files {
		if fd.IsNew {
			created = append(created, fd.NewName)
		} else {
			existing = append(existing, fd.OldName)
		}
	}
	if len(existing) == 0 {
		for _, name := range created {
			if !strings.Contains(strings.TrimPrefix(filepath.ToSlash(name), "./"), "/") {
				return 0
			}
		}
		return 1
	}
	for _, level := range []int{0, 1} {
		if allRegular(dir, existing, level) {
			return level
		}
	}
	return 0
}

func allRegular(dir string, names []string, level int) bool {
	for _, name := range names {
		p, err := treePath(dir, name, level)
		if err != nil {
			return false
		}
		if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// treePath maps a diff name to a path inside dir after dropping strip
// leading components. Names leaving the tree are rejected.
func treePath(dir, name string, strip int) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(name), "./")
	for range strip {
		_, rest, ok := strings.Cut(rel, "/")
		if !ok {
			return "", fmt.Errorf("%s: cannot strip %d leading components", name, strip)
		}
		rel = rest
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s: path outside the source tree", name)
	}
	return filepath.Join(dir, rel), nil
}

func displayName(fd *gitdiff.File) string {
	if fd.NewName != "" {
		return fd.NewName
	}
	return fd.OldName
}

func applyFile(dir string, fd *gitdiff.File, strip int) error {
	if fd.IsBinary {
		return errors.New("binary patches are not supported")
	}

	var (
		src     []byte
		oldPath string
		perm    os.FileMode = 0o644
	)
	if !fd.IsNew {
		p, err := treePath(dir, fd.OldName, strip)
		if err != nil {
			return err
		}
		oldPath = p
		fi, err := os.Stat(oldPath)
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("%s: not a regular file", fd.OldName)
		}
		if fd.IsDelete {
			return os.Remove(oldPath)
		}
		perm = fi.Mode().Perm()
		if src, err = os.ReadFile(oldPath); err != nil {
			return err
		}
	}
	if fd.NewMode != 0 {
		perm = fd.NewMode.Perm()
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(src), fd); err != nil {
		return err
	}

	newPath := oldPath
	if fd.IsNew || fd.IsRename || fd.IsCopy {
		p, err := treePath(dir, fd.NewName, strip)
		if err != nil {
			return err
		}
		newPath = p
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(newPath, out.Bytes(), perm); err != nil {
		return err
	}
	if fd.IsRename && oldPath != newPath {
		return os.Remove(oldPath)
	}
	return nil
}

func applyEdit(dir string, e manifest.Edit) error {
	p := filepath.Join(dir, filepath.FromSlash(e.File))
	fi, err := os.Stat(p)
	if err != nil {
		return &PatchError{Edit: e.Name, File: e.File, Err: err}
	}
	src, err := os.ReadFile(p)
	if err != nil {
		return &PatchError{Edit: e.Name, File: e.File, Err: err}
	}
	out, err := e.Apply(src)
	if err != nil {
		return &PatchError{Edit: e.Name, File: e.File, Err: err}
	}
	if err := renameio.WriteFile(p, out, fi.Mode().Perm()); err != nil {
		return &PatchError{Edit: e.Name, File: e.File, Err: err}
	}
	return nil
}

// Package unpack extracts source archives into canonically named
// directories.
package unpack

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// UnpackError reports an archive that could not be extracted.
type UnpackError struct {
	Archive string
	Err     error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("unpack %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

// Root names the top-level directory expected inside an archive.
type Root struct {
	Name string
	// Explicit roots must exist; derived ones are a hint.
	Explicit bool
}

// Format is an archive encoding.
type Format int

const (
	Unknown Format = iota
	Tar
	TarGzip
	TarXz
	TarBzip2
	TarZstd
	Zip
)

var formatNames = [...]string{"unknown", "tar", "tar.gz", "tar.xz", "tar.bz2", "tar.zst", "zip"}

func (f Format) String() string { return formatNames[f] }

// Unpacker extracts archives.
type Unpacker struct {
	Logger *slog.Logger
}

// Unpack extracts archive and moves its root directory to dest, replacing
// whatever dest held before. It returns dest.
func (u *Unpacker) Unpack(archive string, root Root, dest string) (string, error) {
	if err := u.unpack(archive, root, dest); err != nil {
		return "", &UnpackError{Archive: archive, Err: err}
	}
	return dest, nil
}

func (u *Unpacker) unpack(archive string, root Root, dest string) error {
	format, err := Detect(archive)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".unpack-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if format == Zip {
		err = extractZip(archive, tmp)
	} else {
		err = extractTar(archive, format, tmp)
	}
	if err != nil {
		return err
	}

	dir, err := pickRoot(tmp, root)
	if err != nil {
		return err
	}
	if u.Logger != nil {
		u.Logger.Debug("unpacked", "archive", filepath.Base(archive), "format", format, "root", filepath.Base(dir))
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return os.Rename(dir, dest)
}

// Detect sniffs the format of archive from its leading bytes.
func Detect(archive string) (Format, error) {
	f, err := os.Open(archive)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unknown, err
	}
	return sniff(head[:n])
}

func sniff(head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return TarGzip, nil
	case bytes.HasPrefix(head, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return TarXz, nil
	case bytes.HasPrefix(head, []byte("BZh")):
		return TarBzip2, nil
	case bytes.HasPrefix(head, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return TarZstd, nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return Zip, nil
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return Tar, nil
	}
	return Unknown, errors.New("unrecognized archive format")
}

func decompress(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case TarGzip:
		return pgzip.NewReader(r)
	case TarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case TarBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case TarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return io.NopCloser(r), nil
}

type dirTime struct {
	path    string
	modTime time.Time
}

func extractTar(archive string, format Format, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := decompress(bufio.NewReader(f), format)
	if err != nil {
		return fmt.Errorf("%s: %w", format, err)
	}
	defer r.Close()

	var dirs []dirTime
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header: %w", err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name, err := entryName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if err := checkParents(dest, name); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0o777|0o700); err != nil {
				return err
			}
			dirs = append(dirs, dirTime{target, hdr.ModTime})
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)&0o777, hdr.ModTime); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlink(dest, name, hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			old, err := entryName(hdr.Linkname)
			if err != nil || old == "" || checkParents(dest, old) != nil {
				return fmt.Errorf("illegal hard link %s -> %s", hdr.Name, hdr.Linkname)
			}
			os.Remove(target)
			if err := os.Link(filepath.Join(dest, filepath.FromSlash(old)), target); err != nil {
				return err
			}
		default:
			// devices, fifos
		}
	}
	return restoreDirTimes(dirs)
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	var dirs []dirTime
	for _, zf := range zr.File {
		name, err := entryName(zf.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if err := checkParents(dest, name); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return err
			}
			dirs = append(dirs, dirTime{target, zf.Modified})
		case mode&os.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return err
			}
			if err := symlink(dest, name, string(link), target); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeFile(target, rc, perm, zf.Modified)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return restoreDirTimes(dirs)
}

// entryName cleans an archive member name and rejects names escaping the
// extraction directory.
func entryName(name string) (string, error) {
	name = strings.TrimPrefix(strings.ReplaceAll(name, `\`, "/"), "./")
	if path.IsAbs(name) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return clean, nil
}

// checkParents rejects a member whose parent directories, already
// extracted below dest, include a symlink. Links are only checked
// lexically, so writing through one could leave dest.
func checkParents(dest, name string) error {
	dir := dest
	parts := strings.Split(name, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("illegal file path in archive: %s traverses symlink %s", name, path.Join(parts[:len(parts)-1]...))
		}
	}
	return nil
}

func symlink(dest, name, linkname, target string) error {
	if path.IsAbs(linkname) {
		return fmt.Errorf("illegal symlink %s -> %s", name, linkname)
	}
	resolved := path.Join(path.Dir(name), linkname)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("illegal symlink %s -> %s", name, linkname)
	}
	os.Remove(target)
	return os.Symlink(linkname, target)
}

func writeFile(target string, r io.Reader, perm os.FileMode, modTime time.Time) error {
	os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if modTime.IsZero() {
		return nil
	}
	return os.Chtimes(target, modTime, modTime)
}

func restoreDirTimes(dirs []dirTime) error {
	for _, d := range slices.Backward(dirs) {
		if d.modTime.IsZero() {
			continue
		}
		if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
			return err
		}
	}
	return nil
}

// pickRoot returns the directory inside dir holding the sources.
func pickRoot(dir string, root Root) (string, error) {
	if root.Explicit {
		p := filepath.Join(dir, root.Name)
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			return "", fmt.Errorf("root directory %q not found in archive", root.Name)
		}
		return p, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if root.Name != "" {
		for _, e := range entries {
			if e.IsDir() && e.Name() == root.Name {
				return filepath.Join(dir, e.Name()), nil
			}
		}
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

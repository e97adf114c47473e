package manifest

import (
	"net/url"
	"path"
	"regexp"
)

var (
	archiveRe     = regexp.MustCompile(`^(.+)\.(tar(\.(gz|bz2|xz|lzma|zst))?|tgz|zip)$`)
	nameVersionRe = regexp.MustCompile(`^([-\w]+)-(\d[\d.]*[a-z]?[\d.]*(?:-alpha\d+)?)(\+.*)?$`)
)

// ArchiveName returns the file name of the archive at rawURL.
func ArchiveName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// ArchiveBase returns the archive file name without its archive
// extensions: "libogg-1.3.4.tar.xz" becomes "libogg-1.3.4".
func ArchiveBase(rawURL string) string {
	name := ArchiveName(rawURL)
	if m := archiveRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// NameVersion splits an archive base name such as "lame-3.100" into its
// name and version. It reports false when base does not follow the
// name-version convention.
func NameVersion(base string) (name, version string, ok bool) {
	m := nameVersionRe.FindStringSubmatch(base)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

package build

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/musicpd/depbuild/internal/gnu"
	"github.com/musicpd/depbuild/internal/manifest"
	"golang.org/x/mod/module"
)

// Install prefix layout:
//
//	prefix/
//	  include/
//	  lib/
//	    pkgconfig/
//	  .depbuild/
//	    <escaped name>.json   # build record, see Record
const recordDir = ".depbuild"

// Record describes a successful installation. Records are informational:
// whether a dependency needs building only depends on its artifact.
type Record struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	URL        string    `json:"url"`
	Checksum   string    `json:"checksum"`
	Artifact   string    `json:"artifact"`
	Target     string    `json:"target"`
	SourceHash string    `json:"source_hash,omitempty"`
	BuildTime  time.Time `json:"build_time"`
}

// Status is the installation status of a dependency in a prefix.
type Status int

const (
	StatusMissing Status = iota
	StatusInstalled
	StatusOutdated
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusOutdated:
		return "outdated"
	}
	return "missing"
}

// Cache answers whether dependencies are already installed in a prefix.
type Cache struct {
	prefix string
}

// NewCache returns the cache of the install prefix.
func NewCache(prefix string) *Cache {
	return &Cache{prefix: prefix}
}

// Prefix returns the install prefix.
func (c *Cache) Prefix() string { return c.prefix }

// ArtifactPath returns where dep's artifact is expected.
func (c *Cache) ArtifactPath(dep manifest.Dependency) string {
	return filepath.Join(c.prefix, filepath.FromSlash(dep.Artifact))
}

// Satisfied reports whether dep's artifact exists. The artifact's content
// is not inspected.
func (c *Cache) Satisfied(dep manifest.Dependency) bool {
	_, err := os.Stat(c.ArtifactPath(dep))
	return err == nil
}

func (c *Cache) recordPath(name string) (string, error) {
	escaped, err := module.EscapeVersion(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.prefix, recordDir, escaped+".json"), nil
}

// Record stores the build record of dep.
func (c *Cache) Record(rec Record) error {
	path, err := c.recordPath(rec.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o644)
}

// Lookup returns the build record of the dependency called name.
func (c *Cache) Lookup(name string) (*Record, error) {
	path, err := c.recordPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Records returns every build record in the prefix, sorted by name.
func (c *Cache) Records() ([]*Record, error) {
	entries, err := os.ReadDir(filepath.Join(c.prefix, recordDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.prefix, recordDir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

// Status compares the installed dependency against its manifest entry.
// An installation is outdated when it was built from another archive or an
// older version. Status never triggers a rebuild; remove the artifact (or
// the prefix) to rebuild.
func (c *Cache) Status(dep manifest.Dependency) (Status, *Record) {
	if !c.Satisfied(dep) {
		return StatusMissing, nil
	}
	rec, err := c.Lookup(dep.Name)
	if err != nil {
		return StatusInstalled, nil
	}
	if rec.Checksum != dep.Checksum.String() || gnu.Less(rec.Version, dep.Version) {
		return StatusOutdated, rec
	}
	return StatusInstalled, rec
}

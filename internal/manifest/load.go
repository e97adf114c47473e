package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/musicpd/depbuild/manifests"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a manifest file.
type Format int

const (
	YAML Format = iota
	JSONC
)

type document struct {
	Dependencies []entry `yaml:"dependencies" json:"dependencies"`
}

type entry struct {
	Name           string              `yaml:"name" json:"name"`
	Version        string              `yaml:"version" json:"version"`
	URL            string              `yaml:"url" json:"url"`
	Checksum       string              `yaml:"checksum" json:"checksum"`
	Artifact       string              `yaml:"artifact" json:"artifact"`
	Flags          []string            `yaml:"flags" json:"flags"`
	Build          string              `yaml:"build" json:"build"`
	Root           string              `yaml:"root" json:"root"`
	PlatformFlags  map[string][]string `yaml:"platform_flags" json:"platform_flags"`
	Patches        string              `yaml:"patches" json:"patches"`
	Edits          []Edit              `yaml:"edits" json:"edits"`
	NeedsBootstrap bool                `yaml:"needs_bootstrap" json:"needs_bootstrap"`
	Bootstrap      string              `yaml:"bootstrap" json:"bootstrap"`
	CPPFlags       string              `yaml:"cppflags" json:"cppflags"`
	Subdirs        []string            `yaml:"subdirs" json:"subdirs"`
	Requires       []string            `yaml:"requires" json:"requires"`
}

// Load reads the manifest at path. Files ending in .json or .jsonc are
// read as JSON with comments, anything else as YAML. Patch directories are
// resolved relative to the manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := YAML
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		format = JSONC
	}
	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, format, baseDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Default returns the embedded manifest of the media player libraries.
func Default() (*Manifest, error) {
	m, err := Parse(manifests.Default, YAML, "")
	if err != nil {
		return nil, fmt.Errorf("embedded manifest: %w", err)
	}
	return m, nil
}

// Parse decodes a manifest document.
func Parse(data []byte, format Format, baseDir string) (*Manifest, error) {
	var doc document
	switch format {
	case JSONC:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	deps := make([]Dependency, 0, len(doc.Dependencies))
	for i, e := range doc.Dependencies {
		d, err := e.dependency(baseDir)
		if err != nil {
			return nil, fmt.Errorf("dependency %d (%s): %w", i, e.URL, err)
		}
		deps = append(deps, d)
	}
	return New(deps)
}

func (e entry) dependency(baseDir string) (Dependency, error) {
	d := Dependency{
		Name:           e.Name,
		Version:        e.Version,
		URL:            e.URL,
		Artifact:       e.Artifact,
		Flags:          e.Flags,
		Root:           e.Root,
		PlatformFlags:  e.PlatformFlags,
		Edits:          e.Edits,
		NeedsBootstrap: e.NeedsBootstrap || e.Bootstrap != "",
		Bootstrap:      Bootstrap(e.Bootstrap),
		Subdirs:        e.Subdirs,
		Requires:       e.Requires,
	}
	if e.URL == "" {
		return d, fmt.Errorf("missing url")
	}
	if d.Name == "" || d.Version == "" {
		name, version, ok := NameVersion(ArchiveBase(e.URL))
		if !ok && d.Name == "" {
			return d, fmt.Errorf("cannot derive a name from %s", ArchiveName(e.URL))
		}
		if d.Name == "" {
			d.Name = name
		}
		if d.Version == "" {
			d.Version = version
		}
	}
	if d.NeedsBootstrap && d.Bootstrap == NoBootstrap {
		d.Bootstrap = Autoreconf
	}

	var err error
	if e.Checksum == "" {
		return d, fmt.Errorf("missing checksum")
	}
	if d.Checksum, err = ParseChecksum(e.Checksum); err != nil {
		return d, err
	}
	if e.Build == "" {
		return d, fmt.Errorf("missing build strategy")
	}
	if d.Build, err = ParseKind(e.Build); err != nil {
		return d, err
	}
	if e.CPPFlags != "" {
		if d.CPPFlags, err = shellquote.Split(e.CPPFlags); err != nil {
			return d, fmt.Errorf("cppflags: %w", err)
		}
	}
	if e.Patches != "" {
		d.PatchDir = e.Patches
		if !filepath.IsAbs(d.PatchDir) && baseDir != "" {
			d.PatchDir = filepath.Join(baseDir, d.PatchDir)
		}
	}
	return d, nil
}

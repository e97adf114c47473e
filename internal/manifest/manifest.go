// Package manifest describes the pinned third-party libraries to build.
//
// A manifest is an ordered list of dependencies. Every entry names exactly
// one archive, its checksum, how to build it and the file whose presence in
// the install prefix proves it has been installed. Entries are built in
// declaration order; the optional requires edges only have to point at
// earlier entries and are used to select subsets.
package manifest

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/musicpd/depbuild/internal/platform"
	"golang.org/x/mod/module"
)

// Kind selects the build strategy of a dependency.
type Kind string

const (
	Autotools Kind = "autotools"
	CMake     Kind = "cmake"
	Meson     Kind = "meson"
	Zlib      Kind = "specialized:zlib"
	FFmpeg    Kind = "specialized:ffmpeg"
	OpenSSL   Kind = "specialized:openssl"
	Boost     Kind = "specialized:boost"
	Jack      Kind = "specialized:jack"
)

var kinds = []Kind{Autotools, CMake, Meson, Zlib, FFmpeg, OpenSSL, Boost, Jack}

// ParseKind parses the build key of a manifest entry.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown build strategy %q", s)
}

// Bootstrap names the way configure scripts are generated.
type Bootstrap string

const (
	NoBootstrap Bootstrap = ""
	// Autoreconf runs "autoreconf -vif".
	Autoreconf Bootstrap = "autoreconf"
	// Autogen runs libtoolize, aclocal, automake and autoconf in turn.
	Autogen Bootstrap = "autogen"
)

// Dependency is one pinned library.
type Dependency struct {
	Name     string
	Version  string
	URL      string
	Checksum Checksum
	Artifact string
	Flags    []string
	Build    Kind

	// Root overrides the name of the top-level directory of the archive.
	Root string

	PlatformFlags  map[string][]string
	PatchDir       string
	Edits          []Edit
	NeedsBootstrap bool
	Bootstrap      Bootstrap
	CPPFlags       []string
	Subdirs        []string
	Requires       []string
}

// SourceRoot returns the directory name the archive is expected to unpack
// into.
func (d Dependency) SourceRoot() string {
	if d.Root != "" {
		return d.Root
	}
	return ArchiveBase(d.URL)
}

// FlagsFor returns the build flags of d for target t: the common flags
// followed by the flags of every matching platform selector, in selector
// order.
func (d Dependency) FlagsFor(t platform.Target) []string {
	flags := slices.Clone(d.Flags)
	selectors := make([]string, 0, len(d.PlatformFlags))
	for sel := range d.PlatformFlags {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)
	for _, sel := range selectors {
		if t.Matches(sel) {
			flags = append(flags, d.PlatformFlags[sel]...)
		}
	}
	return flags
}

func (d Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

// Manifest is a validated, ordered set of dependencies.
type Manifest struct {
	deps  []Dependency
	index map[string]int
}

// New validates deps and returns a Manifest keeping their order.
func New(deps []Dependency) (*Manifest, error) {
	m := &Manifest{
		deps:  make([]Dependency, 0, len(deps)),
		index: make(map[string]int, len(deps)),
	}
	sums := make(map[string]Checksum)
	for i, d := range deps {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("dependency %d (%s): %w", i, d.Name, err)
		}
		if _, ok := m.index[d.Name]; ok {
			return nil, fmt.Errorf("dependency %s: duplicate name", d.Name)
		}
		if prev, ok := sums[d.URL]; ok && !prev.Equal(d.Checksum) {
			return nil, fmt.Errorf("dependency %s: %s declared with checksums %s and %s", d.Name, d.URL, prev, d.Checksum)
		}
		for _, r := range d.Requires {
			if _, ok := m.index[r]; !ok {
				return nil, fmt.Errorf("dependency %s: requires %q, which is not declared before it", d.Name, r)
			}
		}
		sums[d.URL] = d.Checksum
		m.index[d.Name] = len(m.deps)
		m.deps = append(m.deps, d)
	}
	return m, nil
}

func validate(d Dependency) error {
	if d.Name == "" {
		return fmt.Errorf("missing name")
	}
	if err := module.CheckFilePath(d.Name); err != nil || strings.Contains(d.Name, "/") {
		return fmt.Errorf("invalid name %q", d.Name)
	}
	if d.URL == "" {
		return fmt.Errorf("missing url")
	}
	if d.Checksum.Algorithm == "" {
		return fmt.Errorf("missing checksum")
	}
	if d.Artifact == "" {
		return fmt.Errorf("missing artifact")
	}
	if err := module.CheckFilePath(d.Artifact); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}
	if _, err := ParseKind(string(d.Build)); err != nil {
		return err
	}
	switch d.Bootstrap {
	case NoBootstrap, Autoreconf, Autogen:
	default:
		return fmt.Errorf("unknown bootstrap %q", d.Bootstrap)
	}
	for _, e := range d.Edits {
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of dependencies.
func (m *Manifest) Len() int { return len(m.deps) }

// Dependencies returns all dependencies in declaration order.
func (m *Manifest) Dependencies() []Dependency {
	return slices.Clone(m.deps)
}

// Lookup returns the dependency called name.
func (m *Manifest) Lookup(name string) (Dependency, bool) {
	i, ok := m.index[name]
	if !ok {
		return Dependency{}, false
	}
	return m.deps[i], true
}

// Closure returns the named dependencies and everything they transitively
// require, in declaration order.
func (m *Manifest) Closure(names ...string) ([]Dependency, error) {
	want := make([]bool, len(m.deps))
	var visit func(name string) error
	visit = func(name string) error {
		i, ok := m.index[name]
		if !ok {
			return fmt.Errorf("unknown dependency %q", name)
		}
		if want[i] {
			return nil
		}
		want[i] = true
		for _, r := range m.deps[i].Requires {
			if err := visit(r); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	var deps []Dependency
	for i, ok := range want {
		if ok {
			deps = append(deps, m.deps[i])
		}
	}
	return deps, nil
}

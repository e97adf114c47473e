package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/musicpd/depbuild/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
dependencies:
  - url: 'https://example.org/libfoo-1.2.3.tar.xz'
    checksum: 'sha256:c163bc12bc300c401b6aa35907ac682671ea376f13ae0969a220f7ddf71893fe'
    artifact: 'lib/libfoo.a'
    build: 'cmake'
    flags: ['-DBUILD_SHARED_LIBS=OFF']
    platform_flags:
      windows: ['-DUSE_WIN32=ON']
      arm64: ['-DNEON=ON']
  - url: 'https://example.org/libbar-0.15.1b.tar.gz'
    checksum: 'e5808ad997ba32c498803822078748c3'
    artifact: 'lib/libbar.a'
    build: 'autotools'
    needs_bootstrap: true
    cppflags: '-DBAR_EXPORT= -I"/opt/my include"'
    patches: 'patches/libbar'
    requires: [libfoo]
  - url: 'https://example.org/archive/v2.0.tar.gz'
    name: 'baz'
    version: '2.0'
    root: 'baz-project-2.0'
    checksum: 'c163bc12bc300c401b6aa35907ac682671ea376f13ae0969a220f7ddf71893fe'
    artifact: 'include/baz.h'
    build: 'specialized:boost'
`

func TestParseYAML(t *testing.T) {
	m, err := Parse([]byte(sampleYAML), YAML, "/manifests")
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	deps := m.Dependencies()
	foo := deps[0]
	assert.Equal(t, "libfoo", foo.Name)
	assert.Equal(t, "1.2.3", foo.Version)
	assert.Equal(t, CMake, foo.Build)
	assert.Equal(t, "sha256", foo.Checksum.Algorithm)
	assert.Equal(t, "libfoo-1.2.3", foo.SourceRoot())

	bar := deps[1]
	assert.Equal(t, "libbar", bar.Name)
	assert.Equal(t, "0.15.1b", bar.Version)
	assert.Equal(t, "md5", bar.Checksum.Algorithm)
	assert.True(t, bar.NeedsBootstrap)
	assert.Equal(t, Autoreconf, bar.Bootstrap)
	assert.Equal(t, []string{"-DBAR_EXPORT=", "-I/opt/my include"}, bar.CPPFlags)
	assert.Equal(t, filepath.Join("/manifests", "patches/libbar"), bar.PatchDir)

	baz, ok := m.Lookup("baz")
	require.True(t, ok)
	assert.Equal(t, "baz-project-2.0", baz.SourceRoot())
	assert.Equal(t, Boost, baz.Build)
}

func TestParseJSONC(t *testing.T) {
	src := `{
  // one entry
  "dependencies": [
    {
      "url": "https://example.org/zlib-1.2.11.tar.xz",
      "checksum": "4ff941449631ace0d4d203e3483be9dbc9da454084111f97ea0a2114e19bf066",
      "artifact": "lib/libz.a",
      "build": "specialized:zlib", // trailing comma below
    },
  ],
}`
	m, err := Parse([]byte(src), JSONC, "")
	require.NoError(t, err)
	d, ok := m.Lookup("zlib")
	require.True(t, ok)
	assert.Equal(t, Zlib, d.Build)
	assert.Equal(t, "1.2.11", d.Version)
}

func TestLoadResolvesPatchDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	bar, _ := m.Lookup("libbar")
	assert.Equal(t, filepath.Join(dir, "patches", "libbar"), bar.PatchDir)
}

func TestParseErrors(t *testing.T) {
	base := func(extra string) string {
		return "dependencies:\n  - url: 'https://example.org/libfoo-1.0.tar.gz'\n" +
			"    artifact: 'lib/libfoo.a'\n    build: 'cmake'\n" + extra
	}
	sum := "    checksum: 'e5808ad997ba32c498803822078748c3'\n"
	tests := []struct {
		name string
		src  string
	}{
		{"missing checksum", base("")},
		{"bad checksum length", base("    checksum: 'abcd'\n")},
		{"unknown algorithm", base("    checksum: 'crc32:abcd1234'\n")},
		{"unknown build", "dependencies:\n  - url: 'https://example.org/libfoo-1.0.tar.gz'\n    artifact: 'a'\n    build: 'scons'\n" + sum},
		{"unknown field", base(sum + "    colour: red\n")},
		{"escaping artifact", "dependencies:\n  - url: 'https://example.org/libfoo-1.0.tar.gz'\n    artifact: '../etc/passwd'\n    build: 'cmake'\n" + sum},
		{"underivable name", "dependencies:\n  - url: 'https://example.org/v1.0.tar.gz'\n    artifact: 'a'\n    build: 'cmake'\n" + sum},
		{"forward requires", base(sum + "    requires: [later]\n")},
		{"bad edit pattern", base(sum + "    edits:\n      - {name: x, file: f, pattern: '(', replacement: ''}\n")},
		{"duplicate name", base(sum) + "  - url: 'https://example.org/libfoo-1.0.tar.gz'\n    artifact: 'a'\n    build: 'cmake'\n" + sum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), YAML, "")
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsConflictingChecksums(t *testing.T) {
	a, err := ParseChecksum("e5808ad997ba32c498803822078748c3")
	require.NoError(t, err)
	b, err := ParseChecksum("1be543bc30c56fb6bea1d7bf6a64e66c")
	require.NoError(t, err)

	deps := []Dependency{
		{Name: "one", URL: "https://example.org/x-1.0.tar.gz", Checksum: a, Artifact: "lib/a.a", Build: CMake},
		{Name: "two", URL: "https://example.org/x-1.0.tar.gz", Checksum: b, Artifact: "lib/b.a", Build: CMake},
	}
	_, err = New(deps)
	assert.ErrorContains(t, err, "checksums")

	deps[1].Checksum = a
	_, err = New(deps)
	assert.NoError(t, err)
}

func TestClosure(t *testing.T) {
	sum, _ := ParseChecksum("e5808ad997ba32c498803822078748c3")
	dep := func(name string, requires ...string) Dependency {
		return Dependency{Name: name, URL: "https://example.org/" + name + "-1.0.tar.gz", Checksum: sum, Artifact: "lib/" + name + ".a", Build: Autotools, Requires: requires}
	}
	m, err := New([]Dependency{
		dep("zlib"),
		dep("ogg"),
		dep("openssl"),
		dep("curl", "zlib", "openssl"),
		dep("nfs"),
	})
	require.NoError(t, err)

	names := func(deps []Dependency) []string {
		var s []string
		for _, d := range deps {
			s = append(s, d.Name)
		}
		return s
	}

	got, err := m.Closure("curl")
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib", "openssl", "curl"}, names(got))

	got, err = m.Closure("nfs", "ogg")
	require.NoError(t, err)
	assert.Equal(t, []string{"ogg", "nfs"}, names(got))

	_, err = m.Closure("missing")
	assert.Error(t, err)
}

func TestFlagsFor(t *testing.T) {
	m, err := Parse([]byte(sampleYAML), YAML, "")
	require.NoError(t, err)
	foo, _ := m.Lookup("libfoo")

	tests := []struct {
		target string
		want   []string
	}{
		{"linux-amd64", []string{"-DBUILD_SHARED_LIBS=OFF"}},
		{"windows-amd64", []string{"-DBUILD_SHARED_LIBS=OFF", "-DUSE_WIN32=ON"}},
		{"windows-arm64", []string{"-DBUILD_SHARED_LIBS=OFF", "-DNEON=ON", "-DUSE_WIN32=ON"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			tgt, err := platform.Parse(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, foo.FlagsFor(tgt))
		})
	}
	assert.Equal(t, []string{"-DBUILD_SHARED_LIBS=OFF"}, foo.Flags, "FlagsFor must not modify Flags")
}

func TestDefaultManifest(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	for _, name := range []string{"libmpdclient", "zlib", "ffmpeg", "openssl", "curl", "boost", "jack", "libid3tag"} {
		_, ok := m.Lookup(name)
		assert.True(t, ok, name)
	}
	id3, _ := m.Lookup("libid3tag")
	assert.Equal(t, Autogen, id3.Bootstrap)
	require.Len(t, id3.Edits, 1)

	curl, err := m.Closure("curl")
	require.NoError(t, err)
	assert.Equal(t, "zlib", curl[0].Name)
	assert.Equal(t, "curl", curl[len(curl)-1].Name)

	// no local patch sets ship with the default manifest
	for _, name := range []string{"curl", "libnfs"} {
		d, ok := m.Lookup(name)
		require.True(t, ok, name)
		assert.Empty(t, d.PatchDir, name)
	}
}

func TestArchiveNames(t *testing.T) {
	tests := []struct {
		url, base, name, version string
		ok                       bool
	}{
		{"http://downloads.xiph.org/releases/ogg/libogg-1.3.4.tar.xz", "libogg-1.3.4", "libogg", "1.3.4", true},
		{"ftp://ftp.mars.org/pub/mpeg/libid3tag-0.15.1b.tar.gz", "libid3tag-0.15.1b", "libid3tag", "0.15.1b", true},
		{"https://example.org/libopenmpt-0.5.12+release.autotools.tar.gz", "libopenmpt-0.5.12+release.autotools", "libopenmpt", "0.5.12", true},
		{"https://example.org/game-music-emu-0.6.3.tar.xz", "game-music-emu-0.6.3", "game-music-emu", "0.6.3", true},
		{"https://example.org/foo-2.0-alpha3.zip", "foo-2.0-alpha3", "foo", "2.0-alpha3", true},
		{"https://example.org/boost_1_77_0.tar.bz2", "boost_1_77_0", "", "", false},
		{"https://example.org/archive/v1.9.17.tar.gz?x=1", "v1.9.17", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			base := ArchiveBase(tt.url)
			assert.Equal(t, tt.base, base)
			name, version, ok := NameVersion(base)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.version, version)
		})
	}
}

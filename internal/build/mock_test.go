package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/buildsys/buildsystest"
	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/musicpd/depbuild/internal/platform"
	"github.com/musicpd/depbuild/internal/unpack"
)

// mockFetcher serves one archive per URL without network access.
type mockFetcher struct {
	mu       sync.Mutex
	archives map[string]string
	errs     map[string]error
	calls    []string
}

func (m *mockFetcher) Fetch(ctx context.Context, url string, sum manifest.Checksum) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if err := m.errs[url]; err != nil {
		return "", err
	}
	return m.archives[url], nil
}

func (m *mockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// countingUnpacker records whether unpacking was attempted.
type countingUnpacker struct {
	unpack.Unpacker
	calls int
}

func (c *countingUnpacker) Unpack(archive string, root unpack.Root, dest string) (string, error) {
	c.calls++
	return c.Unpacker.Unpack(archive, root, dest)
}

// makeSourceArchive writes a gzipped tarball of an autotools project
// unpacking to <name>-<version>/.
func makeSourceArchive(t *testing.T, name, version string) string {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	root := name + "-" + version + "/"
	files := []struct {
		name string
		body string
		mode int64
	}{
		{root + "configure", "#!/bin/sh\n", 0o755},
		{root + "Makefile.in", "all:\n", 0o644},
		{root + "src/" + name + ".c", "int " + name + ";\n", 0o644},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: f.mode, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name+"-"+version+".tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testDep(t *testing.T, name string, requires ...string) manifest.Dependency {
	t.Helper()
	sum, err := manifest.ParseChecksum("sha256:c163bc12bc300c401b6aa35907ac682671ea376f13ae0969a220f7ddf71893fe")
	if err != nil {
		t.Fatal(err)
	}
	return manifest.Dependency{
		Name:     name,
		Version:  "1.0",
		URL:      "https://example.org/" + name + "-1.0.tar.gz",
		Checksum: sum,
		Artifact: "lib/lib" + name + ".a",
		Flags:    []string{"--disable-shared"},
		Build:    manifest.Autotools,
		Requires: requires,
	}
}

// installer is a Runner hook creating the artifact of each project on
// "make install".
func installer(prefix string) func(cmd buildsys.Command) error {
	return func(cmd buildsys.Command) error {
		if cmd.Step != "install" {
			return nil
		}
		// install runs in the build directory, named after the dependency
		name := filepath.Base(cmd.Dir)
		lib := filepath.Join(prefix, "lib", "lib"+name+".a")
		if err := os.MkdirAll(filepath.Dir(lib), 0o755); err != nil {
			return err
		}
		return os.WriteFile(lib, []byte("!<arch>\n"), 0o644)
	}
}

type fixture struct {
	root     string
	fetcher  *mockFetcher
	recorder *buildsystest.Recorder
	events   []Event
	orch     *Orchestrator
}

func newFixture(t *testing.T, deps ...manifest.Dependency) *fixture {
	t.Helper()
	f := &fixture{
		root:     t.TempDir(),
		fetcher:  &mockFetcher{archives: map[string]string{}, errs: map[string]error{}},
		recorder: &buildsystest.Recorder{},
	}
	for _, d := range deps {
		f.fetcher.archives[d.URL] = makeSourceArchive(t, d.Name, d.Version)
	}
	orch, err := New(Options{
		Target:   platform.Host(),
		Root:     f.root,
		Fetcher:  f.fetcher,
		Runner:   f.recorder,
		Jobs:     2,
		Observer: func(ev Event) { f.events = append(f.events, ev) },
	})
	if err != nil {
		t.Fatal(err)
	}
	f.orch = orch
	f.recorder.Hook = installer(orch.Cache().Prefix())
	return f
}

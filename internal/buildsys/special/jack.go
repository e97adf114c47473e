package special

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/musicpd/depbuild/internal/buildsys"
)

// Jack installs only the JACK client headers and a pkg-config file; the
// library itself is provided by the JACK server installation at runtime.
type Jack struct {
	p *buildsys.Project
}

// NewJack returns the JACK strategy for p.
func NewJack(p *buildsys.Project) *Jack {
	return &Jack{p: p}
}

func (j *Jack) headerDir() string {
	return filepath.Join(j.p.SourceDir, "common", "jack")
}

// Configure checks that the source tree contains the client headers.
func (j *Jack) Configure(ctx context.Context) error {
	if _, err := os.Stat(j.headerDir()); err != nil {
		return &buildsys.BuildError{Step: "configure", Command: "stat common/jack", Err: err}
	}
	return nil
}

// Build does nothing; nothing is compiled.
func (j *Jack) Build(ctx context.Context) error { return nil }

// Install copies the client headers and writes jack.pc.
func (j *Jack) Install(ctx context.Context) error {
	dst := filepath.Join(j.p.IncludeDir(), "jack")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	headers, err := filepath.Glob(filepath.Join(j.headerDir(), "*.h"))
	if err != nil {
		return err
	}
	for _, h := range headers {
		data, err := os.ReadFile(h)
		if err != nil {
			return err
		}
		if err := renameio.WriteFile(filepath.Join(dst, filepath.Base(h)), data, 0o644); err != nil {
			return err
		}
	}

	pcDir := filepath.Join(j.p.LibDir(), "pkgconfig")
	if err := os.MkdirAll(pcDir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(pcDir, "jack.pc"), []byte(j.pkgConfig()), 0o644)
}

func (j *Jack) pkgConfig() string {
	lib := "-ljack"
	if j.p.Target.IsWindows() {
		lib = "-ljack64"
		if j.p.Target.Arch == "386" {
			lib = "-ljack"
		}
	}
	return strings.TrimLeft(fmt.Sprintf(`
prefix=%s
exec_prefix=${prefix}
libdir=${exec_prefix}/lib
includedir=${prefix}/include

Name: jack
Description: the Jack Audio Connection Kit: a low-latency synchronous callback-based media server
Version: %s
Libs: -L${libdir} %s
Cflags: -I${includedir}
`, j.p.Prefix, j.p.Version, lib), "\n")
}

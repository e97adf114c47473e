// Package meson drives meson setup and ninja.
package meson

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/musicpd/depbuild/internal/buildsys"
)

// Meson builds a project with meson and ninja.
type Meson struct {
	p   *buildsys.Project
	env map[string]string
}

// New returns a Meson building p as static libraries.
func New(p *buildsys.Project) *Meson {
	env := buildsys.Env(p)
	if p.Target.IsCross() {
		// the cross file describes the host machine; these would leak
		// into the build machine compilers
		for _, k := range []string{"CC", "CXX", "AR", "RANLIB", "STRIP", "NM", "WINDRES", "CFLAGS", "CXXFLAGS", "CPPFLAGS", "LDFLAGS"} {
			delete(env, k)
		}
	}
	return &Meson{p: p, env: env}
}

// CrossFile returns the path of the cross file written for cross builds.
func (m *Meson) CrossFile() string {
	return filepath.Clean(m.p.BuildDir) + ".cross.txt"
}

// SetupArgs returns the arguments of "meson".
func (m *Meson) SetupArgs() []string {
	args := []string{
		"setup",
		"--prefix=" + m.p.Prefix,
		"--libdir=lib",
		"--buildtype=plain",
		"--default-library=static",
		"--wrap-mode=nofallback",
	}
	if m.p.Target.IsCross() {
		args = append(args, "--cross-file="+m.CrossFile())
	}
	args = append(args, m.p.Flags...)
	return append(args, m.p.SourceDir, m.p.BuildDir)
}

// Configure writes the cross file when needed and runs meson setup.
func (m *Meson) Configure(ctx context.Context) error {
	if m.p.Target.IsCross() {
		if err := os.MkdirAll(filepath.Dir(m.CrossFile()), 0o755); err != nil {
			return err
		}
		if err := renameio.WriteFile(m.CrossFile(), []byte(CrossFile(m.p)), 0o644); err != nil {
			return err
		}
	}
	return m.p.Exec(ctx, buildsys.Command{
		Step: "configure",
		Dir:  m.p.SourceDir,
		Name: "meson",
		Args: m.SetupArgs(),
		Env:  m.env,
	})
}

// Build runs ninja in the build directory.
func (m *Meson) Build(ctx context.Context) error {
	return m.ninja(ctx, "build", "-j"+m.p.JobsArg())
}

// Install runs ninja install.
func (m *Meson) Install(ctx context.Context) error {
	return m.ninja(ctx, "install", "install")
}

func (m *Meson) ninja(ctx context.Context, step string, args ...string) error {
	return m.p.Exec(ctx, buildsys.Command{
		Step: step,
		Dir:  m.p.BuildDir,
		Name: "ninja",
		Args: append([]string{"-C", m.p.BuildDir}, args...),
		Env:  m.env,
	})
}

// CrossFile renders the meson cross file describing p's target.
func CrossFile(p *buildsys.Project) string {
	tc := p.Target.Toolchain
	var b strings.Builder

	b.WriteString("[binaries]\n")
	binary := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s = %s\n", key, quote(value))
		}
	}
	binary("c", tc.CC)
	binary("cpp", tc.CXX)
	binary("ar", tc.AR)
	binary("strip", tc.STRIP)
	binary("nm", tc.NM)
	binary("windres", tc.WINDRES)
	binary("pkg-config", "pkg-config")

	b.WriteString("\n[properties]\n")
	fmt.Fprintf(&b, "pkg_config_libdir = %s\n", quote(filepath.Join(p.LibDir(), "pkgconfig")))
	if p.Target.Sysroot != "" {
		fmt.Fprintf(&b, "sys_root = %s\n", quote(p.Target.Sysroot))
	}

	cppflags := p.CPPFLAGS()
	b.WriteString("\n[built-in options]\n")
	fmt.Fprintf(&b, "c_args = %s\n", list(append(p.CFLAGS(), cppflags...)))
	fmt.Fprintf(&b, "c_link_args = %s\n", list(p.LDFLAGS()))
	fmt.Fprintf(&b, "cpp_args = %s\n", list(append(p.CXXFLAGS(), cppflags...)))
	fmt.Fprintf(&b, "cpp_link_args = %s\n", list(p.LDFLAGS()))

	b.WriteString("\n[host_machine]\n")
	fmt.Fprintf(&b, "system = %s\n", quote(p.Target.OS))
	fmt.Fprintf(&b, "cpu_family = %s\n", quote(p.Target.CPUFamily()))
	fmt.Fprintf(&b, "cpu = %s\n", quote(p.Target.CPU()))
	b.WriteString("endian = 'little'\n")
	return b.String()
}

func quote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

func list(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

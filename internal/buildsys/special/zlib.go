// Package special holds the build strategies of libraries whose build
// systems do not follow the usual conventions.
package special

import (
	"context"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/buildsys/autotools"
)

// Zlib builds zlib in its source tree. Windows targets use the bundled
// MinGW makefile; everything else zlib's own configure script, which does
// not understand --host and reads CHOST instead.
type Zlib struct {
	*autotools.AutoTools
}

// NewZlib returns the zlib strategy for p.
func NewZlib(p *buildsys.Project) *Zlib {
	a := autotools.New(p)
	a.InTree = true
	if p.Target.IsCross() {
		a.Env("CHOST", p.Target.Triple)
	}
	return &Zlib{AutoTools: a}
}

// Configure runs zlib's configure script. Windows targets need no configure step.
func (z *Zlib) Configure(ctx context.Context) error {
	p := z.Project()
	if p.Target.IsWindows() {
		return nil
	}
	args := append([]string{"--prefix=" + p.Prefix, "--static"}, p.Flags...)
	return z.Run(ctx, "configure", "./configure", args...)
}

// Build runs make, with the MinGW makefile on Windows targets.
func (z *Zlib) Build(ctx context.Context) error {
	p := z.Project()
	if !p.Target.IsWindows() {
		return z.AutoTools.Build(ctx)
	}
	return z.Run(ctx, "build", "make", z.win32Args("-j"+p.JobsArg())...)
}

// Install installs headers and the static library into the prefix.
func (z *Zlib) Install(ctx context.Context) error {
	p := z.Project()
	if !p.Target.IsWindows() {
		return z.AutoTools.Install(ctx)
	}
	return z.Run(ctx, "install", "make", z.win32Args(
		"install",
		"INCLUDE_PATH="+p.IncludeDir(),
		"LIBRARY_PATH="+p.LibDir(),
		"BINARY_PATH="+p.Prefix+"/bin",
	)...)
}

func (z *Zlib) win32Args(extra ...string) []string {
	p := z.Project()
	args := []string{"-f", "win32/Makefile.gcc"}
	if p.Target.IsCross() {
		args = append(args, "PREFIX="+p.Target.Triple+"-")
	}
	return append(args, extra...)
}

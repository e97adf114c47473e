// Package buildsys runs the configure, build and install steps of the
// supported build systems.
package buildsys

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/musicpd/depbuild/internal/platform"
)

// BuildSystem is implemented by every build strategy. The steps are called
// in order and each one is only called after the previous one succeeded.
type BuildSystem interface {
	Configure(ctx context.Context) error
	Build(ctx context.Context) error
	Install(ctx context.Context) error
}

// Project is what a build system needs to know about one dependency.
type Project struct {
	Name    string
	Version string

	SourceDir string
	BuildDir  string
	// Prefix is where headers and libraries are installed, and where
	// previously installed dependencies are found.
	Prefix string

	// Flags are passed to the configure step, platform flags included.
	Flags     []string
	Target    platform.Target
	CPPFlags  []string
	Subdirs   []string
	Bootstrap manifest.Bootstrap

	Jobs   int
	Runner Runner
}

// JobsArg returns the parallelism to pass to make-like tools.
func (p *Project) JobsArg() string {
	n := p.Jobs
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return strconv.Itoa(n)
}

// Exec runs cmd through the project's runner. Failures are reported as
// *BuildError.
func (p *Project) Exec(ctx context.Context, cmd Command) error {
	err := p.Runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}
	var be *BuildError
	if errors.As(err, &be) {
		return err
	}
	return &BuildError{Step: cmd.Step, Command: cmd.String(), Err: err}
}

// IncludeDir returns the include directory of the install prefix.
func (p *Project) IncludeDir() string { return filepath.Join(p.Prefix, "include") }

// LibDir returns the library directory of the install prefix.
func (p *Project) LibDir() string { return filepath.Join(p.Prefix, "lib") }

// CFLAGS returns the compiler flags of the target.
func (p *Project) CFLAGS() []string {
	flags := append([]string(nil), p.Target.Toolchain.CFLAGS...)
	if p.Target.Sysroot != "" {
		flags = append(flags, "--sysroot="+p.Target.Sysroot)
	}
	return flags
}

// CXXFLAGS returns the C++ compiler flags of the target.
func (p *Project) CXXFLAGS() []string {
	flags := append([]string(nil), p.Target.Toolchain.CXXFLAGS...)
	if len(flags) == 0 {
		flags = append(flags, p.Target.Toolchain.CFLAGS...)
	}
	if p.Target.Sysroot != "" {
		flags = append(flags, "--sysroot="+p.Target.Sysroot)
	}
	return flags
}

// CPPFLAGS returns the preprocessor flags: the install prefix include
// directory, the target's flags and the dependency's own.
func (p *Project) CPPFLAGS() []string {
	flags := []string{"-I" + p.IncludeDir()}
	flags = append(flags, p.Target.Toolchain.CPPFLAGS...)
	return append(flags, p.CPPFlags...)
}

// LDFLAGS returns the linker flags.
func (p *Project) LDFLAGS() []string {
	flags := []string{"-L" + p.LibDir()}
	flags = append(flags, p.Target.Toolchain.LDFLAGS...)
	if p.Target.Sysroot != "" {
		flags = append(flags, "--sysroot="+p.Target.Sysroot)
	}
	return flags
}

// Env returns the environment shared by all build tools: toolchain
// programs, compiler flags and pkg-config search paths pointing at the
// install prefix.
func Env(p *Project) map[string]string {
	tc := p.Target.Toolchain
	env := map[string]string{
		"CFLAGS":   strings.Join(p.CFLAGS(), " "),
		"CXXFLAGS": strings.Join(p.CXXFLAGS(), " "),
		"CPPFLAGS": strings.Join(p.CPPFLAGS(), " "),
		"LDFLAGS":  strings.Join(p.LDFLAGS(), " "),
	}
	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}
	set("CC", tc.CC)
	set("CXX", tc.CXX)
	set("AR", tc.AR)
	set("RANLIB", tc.RANLIB)
	set("STRIP", tc.STRIP)
	set("NM", tc.NM)
	set("WINDRES", tc.WINDRES)
	set("LIBS", strings.Join(tc.LIBS, " "))

	pkgconfig := filepath.Join(p.LibDir(), "pkgconfig")
	if p.Target.IsCross() {
		// only the prefix, never the build machine's libraries
		env["PKG_CONFIG_LIBDIR"] = pkgconfig
		if p.Target.Sysroot != "" {
			env["PKG_CONFIG_SYSROOT_DIR"] = p.Target.Sysroot
		}
	} else {
		env["PKG_CONFIG_PATH"] = prependPath(getenv("PKG_CONFIG_PATH"), pkgconfig)
	}
	env["CMAKE_PREFIX_PATH"] = prependPath(getenv("CMAKE_PREFIX_PATH"), p.Prefix)
	return env
}

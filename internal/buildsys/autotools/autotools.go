// Package autotools drives the classic configure/make/make-install
// workflow.
package autotools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/manifest"
)

// AutoTools drives Autotools-style builds.
type AutoTools struct {
	p   *buildsys.Project
	env map[string]string

	// InTree builds in the source directory instead of BuildDir.
	InTree bool
}

// New returns a ready-to-use AutoTools.
func New(p *buildsys.Project) *AutoTools {
	return &AutoTools{
		p:   p,
		env: buildsys.Env(p),
	}
}

// Project returns the project being built.
func (a *AutoTools) Project() *buildsys.Project { return a.p }

// Env sets key=value for every command spawned later.
func (a *AutoTools) Env(key, value string) {
	a.env[key] = value
}

// Unsetenv removes key from the environment of later commands.
func (a *AutoTools) Unsetenv(key string) {
	delete(a.env, key)
}

// WorkDir returns the directory configure and make run in.
func (a *AutoTools) WorkDir() string {
	if a.InTree || a.p.BuildDir == "" {
		return a.p.SourceDir
	}
	return a.p.BuildDir
}

// Bootstrap generates the configure script according to the project's
// bootstrap mode.
func (a *AutoTools) Bootstrap(ctx context.Context) error {
	switch a.p.Bootstrap {
	case manifest.Autoreconf:
		return a.runIn(ctx, a.p.SourceDir, "bootstrap", "autoreconf", "-vif")
	case manifest.Autogen:
		libtoolize := "libtoolize"
		if runtime.GOOS == "darwin" {
			libtoolize = "glibtoolize"
		}
		steps := [][]string{
			{libtoolize, "--force"},
			{"aclocal"},
			{"automake", "--add-missing", "--force-missing", "--foreign"},
			{"autoconf"},
		}
		for _, s := range steps {
			if err := a.runIn(ctx, a.p.SourceDir, "bootstrap", s[0], s[1:]...); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := os.Stat(filepath.Join(a.p.SourceDir, "configure")); err != nil {
		return &buildsys.BuildError{
			Step:    "configure",
			Command: filepath.Join(a.p.SourceDir, "configure"),
			Err:     fmt.Errorf("no configure script and no bootstrap declared: %w", err),
		}
	}
	return nil
}

// ConfigureArgs returns the arguments passed to the configure script.
func (a *AutoTools) ConfigureArgs() []string {
	args := []string{"--prefix=" + a.p.Prefix}
	if a.p.Target.IsCross() {
		args = append(args, "--host="+a.p.Target.Triple)
	}
	args = append(args, "--enable-silent-rules")
	return append(args, a.p.Flags...)
}

// Configure bootstraps the sources when needed and runs configure.
func (a *AutoTools) Configure(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}
	dir := a.WorkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	exe := filepath.Join(a.p.SourceDir, "configure")
	if dir == a.p.SourceDir {
		exe = "./configure"
	}
	return a.Run(ctx, "configure", exe, a.ConfigureArgs()...)
}

// Build runs make, in each subdirectory when the project lists some.
func (a *AutoTools) Build(ctx context.Context) error {
	return a.make(ctx, "build")
}

// Install runs make install.
func (a *AutoTools) Install(ctx context.Context) error {
	return a.make(ctx, "install", "install")
}

func (a *AutoTools) make(ctx context.Context, step string, targets ...string) error {
	if len(a.p.Subdirs) == 0 {
		return a.Run(ctx, step, "make", append([]string{"-j" + a.p.JobsArg()}, targets...)...)
	}
	for _, sub := range a.p.Subdirs {
		args := append([]string{"-C", sub, "-j" + a.p.JobsArg()}, targets...)
		if err := a.Run(ctx, step, "make", args...); err != nil {
			return err
		}
	}
	return nil
}

// Run runs name in the work directory with the build environment.
func (a *AutoTools) Run(ctx context.Context, step, name string, args ...string) error {
	return a.runIn(ctx, a.WorkDir(), step, name, args...)
}

func (a *AutoTools) runIn(ctx context.Context, dir, step, name string, args ...string) error {
	return a.p.Exec(ctx, buildsys.Command{
		Step: step,
		Dir:  dir,
		Name: name,
		Args: args,
		Env:  a.env,
	})
}

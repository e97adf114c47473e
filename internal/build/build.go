// Package build runs the fetch, unpack, patch, configure, build and install
// pipeline over the dependencies of a manifest.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/lockedfile"
	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/musicpd/depbuild/internal/patch"
	"github.com/musicpd/depbuild/internal/platform"
	"github.com/musicpd/depbuild/internal/unpack"
	"golang.org/x/mod/sumdb/dirhash"
)

// Fetcher makes a verified archive available locally.
type Fetcher interface {
	Fetch(ctx context.Context, url string, sum manifest.Checksum) (string, error)
}

// Unpacker extracts an archive into dest.
type Unpacker interface {
	Unpack(archive string, root unpack.Root, dest string) (string, error)
}

// Patcher applies patches and edits to a source tree.
type Patcher interface {
	Apply(dir, patchDir string, edits []manifest.Edit) error
}

// Event reports a state change of a dependency.
type Event struct {
	Target     string
	Dependency manifest.Dependency
	State      State
	// Skipped is set when the dependency was already installed.
	Skipped bool
	Err     error
}

// Options configures an Orchestrator.
type Options struct {
	Target platform.Target

	// Root is the work directory of the target: sources, build
	// directories and locks live below it.
	Root string
	// Prefix is the install prefix. It defaults to Root/prefix.
	Prefix string

	Fetcher  Fetcher
	Unpacker Unpacker
	Patcher  Patcher
	Runner   buildsys.Runner

	Jobs     int
	Logger   *slog.Logger
	Observer func(Event)
}

// Orchestrator builds dependencies for one target.
type Orchestrator struct {
	opts  Options
	cache *Cache
	log   *slog.Logger
}

// New returns an Orchestrator. A Fetcher is required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Root == "" {
		return nil, errors.New("build: no root directory")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("build: no fetcher")
	}
	if opts.Prefix == "" {
		opts.Prefix = filepath.Join(opts.Root, "prefix")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Unpacker == nil {
		opts.Unpacker = &unpack.Unpacker{Logger: opts.Logger}
	}
	if opts.Patcher == nil {
		opts.Patcher = &patch.Applier{Logger: opts.Logger}
	}
	if opts.Runner == nil {
		opts.Runner = &buildsys.ExecRunner{Logger: opts.Logger}
	}
	return &Orchestrator{
		opts:  opts,
		cache: NewCache(opts.Prefix),
		log:   opts.Logger.With("target", opts.Target.String()),
	}, nil
}

// Target returns the target being built.
func (o *Orchestrator) Target() platform.Target { return o.opts.Target }

// Cache returns the artifact cache of the install prefix.
func (o *Orchestrator) Cache() *Cache { return o.cache }

// SourceDir returns the directory the sources of dep are unpacked into.
func (o *Orchestrator) SourceDir(dep manifest.Dependency) string {
	return filepath.Join(o.opts.Root, "src", dep.Name)
}

// BuildDir returns the out-of-tree build directory of dep.
func (o *Orchestrator) BuildDir(dep manifest.Dependency) string {
	return filepath.Join(o.opts.Root, "build", dep.Name)
}

func (o *Orchestrator) lockPath(dep manifest.Dependency) string {
	return filepath.Join(o.opts.Root, "locks", dep.Name+".lock")
}

// Pending returns the dependencies whose artifact is missing.
func (o *Orchestrator) Pending(deps []manifest.Dependency) []manifest.Dependency {
	var pending []manifest.Dependency
	for _, d := range deps {
		if !o.cache.Satisfied(d) {
			pending = append(pending, d)
		}
	}
	return pending
}

// Run builds deps in order, skipping the installed ones. It stops at the
// first failure and returns it as a *StageError.
func (o *Orchestrator) Run(ctx context.Context, deps []manifest.Dependency) error {
	start := time.Now()
	var built int
	for _, d := range deps {
		did, err := o.Build(ctx, d)
		if err != nil {
			return err
		}
		if did {
			built++
		}
	}
	o.log.Info("done", "built", built, "total", len(deps), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Build builds and installs dep unless its artifact already exists. It
// reports whether any work was done.
func (o *Orchestrator) Build(ctx context.Context, dep manifest.Dependency) (bool, error) {
	log := o.log.With("dependency", dep.Name)
	if o.cache.Satisfied(dep) {
		log.Debug("up to date", "artifact", dep.Artifact)
		o.notify(Event{Dependency: dep, State: Installed, Skipped: true})
		return false, nil
	}

	unlock, err := lockedfile.MutexAt(o.lockPath(dep)).Lock()
	if err != nil {
		return false, o.fail(dep, StageFetch, err)
	}
	defer unlock()

	// another process may have installed it while we waited
	if o.cache.Satisfied(dep) {
		o.notify(Event{Dependency: dep, State: Installed, Skipped: true})
		return false, nil
	}

	log.Info("building", "version", dep.Version, "build", dep.Build)
	start := time.Now()

	archive, err := o.opts.Fetcher.Fetch(ctx, dep.URL, dep.Checksum)
	if err != nil {
		return false, o.fail(dep, StageFetch, err)
	}
	o.reached(dep, StageFetch)

	root := unpack.Root{Name: dep.SourceRoot(), Explicit: dep.Root != ""}
	src, err := o.opts.Unpacker.Unpack(archive, root, o.SourceDir(dep))
	if err != nil {
		return false, o.fail(dep, StageUnpack, err)
	}
	o.reached(dep, StageUnpack)

	if err := o.opts.Patcher.Apply(src, dep.PatchDir, dep.Edits); err != nil {
		return false, o.fail(dep, StagePatch, err)
	}
	sourceHash, err := dirhash.HashDir(src, dep.Name+"@"+dep.Version, dirhash.Hash1)
	if err != nil {
		return false, o.fail(dep, StagePatch, err)
	}
	o.reached(dep, StagePatch)

	buildDir := o.BuildDir(dep)
	if err := os.RemoveAll(buildDir); err != nil {
		return false, o.fail(dep, StageConfigure, err)
	}
	p := &buildsys.Project{
		Name:      dep.Name,
		Version:   dep.Version,
		SourceDir: src,
		BuildDir:  buildDir,
		Prefix:    o.opts.Prefix,
		Flags:     dep.FlagsFor(o.opts.Target),
		Target:    o.opts.Target,
		CPPFlags:  dep.CPPFlags,
		Subdirs:   dep.Subdirs,
		Bootstrap: dep.Bootstrap,
		Jobs:      o.opts.Jobs,
		Runner:    o.opts.Runner,
	}
	bs, err := newBuildSystem(dep.Build, p)
	if err != nil {
		return false, o.fail(dep, StageConfigure, err)
	}

	steps := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageConfigure, bs.Configure},
		{StageBuild, bs.Build},
		{StageInstall, bs.Install},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return false, o.fail(dep, s.stage, err)
		}
		if err := s.run(ctx); err != nil {
			return false, o.fail(dep, s.stage, err)
		}
		if s.stage != StageInstall {
			o.reached(dep, s.stage)
		}
	}

	if !o.cache.Satisfied(dep) {
		return false, o.fail(dep, StageInstall, fmt.Errorf("artifact %s was not installed", dep.Artifact))
	}
	err = o.cache.Record(Record{
		Name:       dep.Name,
		Version:    dep.Version,
		URL:        dep.URL,
		Checksum:   dep.Checksum.String(),
		Artifact:   dep.Artifact,
		Target:     o.opts.Target.String(),
		SourceHash: sourceHash,
		BuildTime:  time.Now().UTC(),
	})
	if err != nil {
		return false, o.fail(dep, StageInstall, err)
	}
	o.reached(dep, StageInstall)
	log.Info("installed", "artifact", dep.Artifact, "elapsed", time.Since(start).Round(time.Millisecond))
	return true, nil
}

func (o *Orchestrator) reached(dep manifest.Dependency, stage Stage) {
	o.log.Debug("stage done", "dependency", dep.Name, "stage", stage)
	o.notify(Event{Dependency: dep, State: stage.reached()})
}

func (o *Orchestrator) fail(dep manifest.Dependency, stage Stage, err error) error {
	se := &StageError{
		Target:     o.opts.Target.String(),
		Dependency: dep.Name,
		Version:    dep.Version,
		Stage:      stage,
		Err:        err,
	}
	o.log.Error("failed", "dependency", dep.Name, "stage", stage, "err", err)
	o.notify(Event{Dependency: dep, State: Failed, Err: se})
	return se
}

func (o *Orchestrator) notify(ev Event) {
	if o.opts.Observer == nil {
		return
	}
	ev.Target = o.opts.Target.String()
	o.opts.Observer(ev)
}

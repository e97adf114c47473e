package internal

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/musicpd/depbuild/internal/build"
	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/env"
	"github.com/musicpd/depbuild/internal/fetch"
	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/musicpd/depbuild/internal/mirror"
	"github.com/musicpd/depbuild/internal/platform"
	"golang.org/x/term"
)

// loadManifest returns the configured manifest, or the built-in one.
func loadManifest() (*manifest.Manifest, error) {
	if cfg.Manifest == "" {
		return manifest.Default()
	}
	return manifest.Load(cfg.Manifest)
}

// selectDeps returns the dependencies to work on: all of them, or the
// named ones with everything they require.
func selectDeps(m *manifest.Manifest, only []string) ([]manifest.Dependency, error) {
	if len(only) == 0 {
		return m.Dependencies(), nil
	}
	return m.Closure(only...)
}

// resolveTargets parses target names, defaulting to the host.
func resolveTargets(names []string) ([]platform.Target, error) {
	if len(names) == 0 {
		t, err := cfg.Host()
		if err != nil {
			return nil, err
		}
		return []platform.Target{t}, nil
	}
	seen := make(map[string]bool)
	var targets []platform.Target
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		t, err := cfg.Target(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newMirror returns the configured archive mirror, or nil.
func newMirror(ctx context.Context) (*mirror.S3, error) {
	if !cfg.Mirror.Enabled() {
		return nil, nil
	}
	return mirror.New(ctx, cfg.Mirror)
}

func newFetcher(ctx context.Context) (*fetch.Fetcher, error) {
	opts := fetch.Options{
		Dir:     cfg.DownloadDir(),
		Client:  &http.Client{Timeout: time.Duration(cfg.Fetch.Timeout)},
		Retries: cfg.Fetch.Retries,
		Logger:  slog.Default(),
	}
	m, err := newMirror(ctx)
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts.Mirror = m
	}
	if isTerminal(os.Stderr) && logFormat != "json" {
		opts.Progress = os.Stderr
	}
	return fetch.New(opts)
}

// newOrchestrator returns the orchestrator of target. An empty prefix
// selects the target's default prefix.
func newOrchestrator(f build.Fetcher, t platform.Target, prefix string) (*build.Orchestrator, error) {
	runner := &buildsys.ExecRunner{Logger: slog.Default()}
	if verbose {
		runner.Stdout = os.Stderr
	}
	return build.New(build.Options{
		Target:  t,
		Root:    cfg.TargetDir(t),
		Prefix:  prefix,
		Fetcher: f,
		Runner:  runner,
		Jobs:    cfg.Jobs,
		Logger:  slog.Default(),
	})
}

// prefixOf returns the install prefix of target without creating anything.
func prefixOf(t platform.Target) string {
	return env.PrefixDir(cfg.TargetDir(t))
}

package special

import (
	"context"
	"os"
	"path/filepath"

	"github.com/musicpd/depbuild/internal/buildsys"
)

// Boost installs the header-only parts of Boost by copying them.
type Boost struct {
	p *buildsys.Project
}

// NewBoost returns the Boost strategy for p.
func NewBoost(p *buildsys.Project) *Boost {
	return &Boost{p: p}
}

// Configure checks that the source tree contains the boost header directory.
func (b *Boost) Configure(ctx context.Context) error {
	_, err := os.Stat(filepath.Join(b.p.SourceDir, "boost"))
	if err != nil {
		return &buildsys.BuildError{Step: "configure", Command: "stat boost", Err: err}
	}
	return nil
}

// Build does nothing; only headers are installed.
func (b *Boost) Build(ctx context.Context) error { return nil }

// Install replaces include/boost in the prefix with the source headers.
func (b *Boost) Install(ctx context.Context) error {
	dst := filepath.Join(b.p.IncludeDir(), "boost")
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if err := os.CopyFS(dst, os.DirFS(filepath.Join(b.p.SourceDir, "boost"))); err != nil {
		return &buildsys.BuildError{Step: "install", Command: "copy boost", Err: err}
	}
	return nil
}

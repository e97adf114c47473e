package build

import (
	"fmt"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/buildsys/autotools"
	"github.com/musicpd/depbuild/internal/buildsys/cmake"
	"github.com/musicpd/depbuild/internal/buildsys/meson"
	"github.com/musicpd/depbuild/internal/buildsys/special"
	"github.com/musicpd/depbuild/internal/manifest"
)

// newBuildSystem returns the build strategy of kind for p.
func newBuildSystem(kind manifest.Kind, p *buildsys.Project) (buildsys.BuildSystem, error) {
	switch kind {
	case manifest.Autotools:
		return autotools.New(p), nil
	case manifest.CMake:
		return cmake.New(p), nil
	case manifest.Meson:
		return meson.New(p), nil
	case manifest.Zlib:
		return special.NewZlib(p), nil
	case manifest.FFmpeg:
		return special.NewFFmpeg(p), nil
	case manifest.OpenSSL:
		return special.NewOpenSSL(p), nil
	case manifest.Boost:
		return special.NewBoost(p), nil
	case manifest.Jack:
		return special.NewJack(p), nil
	}
	return nil, fmt.Errorf("unknown build strategy %q", kind)
}

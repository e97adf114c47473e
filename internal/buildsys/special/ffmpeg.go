package special

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/buildsys/autotools"
)

// FFmpeg takes its toolchain as configure arguments rather than from the
// environment.
type FFmpeg struct {
	*autotools.AutoTools
}

// NewFFmpeg returns the FFmpeg strategy for p.
func NewFFmpeg(p *buildsys.Project) *FFmpeg {
	return &FFmpeg{AutoTools: autotools.New(p)}
}

var ffmpegOS = map[string]string{
	"windows": "mingw32",
	"linux":   "linux",
	"darwin":  "darwin",
	"android": "android",
	"freebsd": "freebsd",
}

// ConfigureArgs returns the arguments of ffmpeg's configure script.
func (f *FFmpeg) ConfigureArgs() []string {
	p := f.Project()
	tc := p.Target.Toolchain
	args := []string{"--prefix=" + p.Prefix}
	tool := func(flag, value string) {
		if value != "" {
			args = append(args, flag+"="+value)
		}
	}
	tool("--cc", tc.CC)
	tool("--cxx", tc.CXX)
	tool("--nm", tc.NM)
	tool("--ar", tc.AR)
	tool("--ranlib", tc.RANLIB)
	tool("--strip", tc.STRIP)
	tool("--windres", tc.WINDRES)
	if p.Target.IsCross() {
		args = append(args,
			"--enable-cross-compile",
			"--arch="+p.Target.CPU(),
			"--target-os="+ffmpegOS[p.Target.OS],
		)
		if p.Target.Sysroot != "" {
			args = append(args, "--sysroot="+p.Target.Sysroot)
		}
	}
	args = append(args,
		"--extra-cflags="+strings.Join(append(p.CFLAGS(), p.CPPFLAGS()...), " "),
		"--extra-ldflags="+strings.Join(p.LDFLAGS(), " "),
	)
	return append(args, p.Flags...)
}

// Configure runs ffmpeg's configure script from the build directory.
func (f *FFmpeg) Configure(ctx context.Context) error {
	p := f.Project()
	if err := os.MkdirAll(f.WorkDir(), 0o755); err != nil {
		return err
	}
	return f.Run(ctx, "configure", filepath.Join(p.SourceDir, "configure"), f.ConfigureArgs()...)
}

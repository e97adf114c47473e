package special

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/musicpd/depbuild/internal/buildsys"
	"github.com/musicpd/depbuild/internal/buildsys/autotools"
)

// OpenSSL is configured by its Perl Configure script and only its
// libraries and headers are built and installed.
type OpenSSL struct {
	*autotools.AutoTools
}

// NewOpenSSL returns the OpenSSL strategy for p.
func NewOpenSSL(p *buildsys.Project) *OpenSSL {
	return &OpenSSL{AutoTools: autotools.New(p)}
}

var opensslTargets = map[string]string{
	"linux-amd64":   "linux-x86_64",
	"linux-arm64":   "linux-aarch64",
	"linux-arm":     "linux-armv4",
	"linux-386":     "linux-x86",
	"windows-amd64": "mingw64",
	"windows-386":   "mingw",
	"darwin-amd64":  "darwin64-x86_64-cc",
	"darwin-arm64":  "darwin64-arm64-cc",
	"android-arm64": "android-arm64",
	"android-arm":   "android-arm",
	"android-amd64": "android-x86_64",
	"android-386":   "android-x86",
	"freebsd-amd64": "BSD-x86_64",
}

// ConfigureArgs returns the arguments of OpenSSL's Configure script.
func (o *OpenSSL) ConfigureArgs() ([]string, error) {
	p := o.Project()
	target, ok := opensslTargets[p.Target.String()]
	if !ok {
		return nil, fmt.Errorf("openssl: no Configure target for %s", p.Target)
	}
	args := []string{
		target,
		"no-shared", "no-module", "no-engine", "no-static-engine",
		"no-async", "no-tests", "no-makedepend",
		"--libdir=lib",
		"--prefix=" + p.Prefix,
	}
	return append(args, p.Flags...), nil
}

// Configure runs OpenSSL's Configure script from the build directory.
func (o *OpenSSL) Configure(ctx context.Context) error {
	p := o.Project()
	args, err := o.ConfigureArgs()
	if err != nil {
		return &buildsys.BuildError{Step: "configure", Command: "Configure", Err: err}
	}
	if err := os.MkdirAll(o.WorkDir(), 0o755); err != nil {
		return err
	}
	return o.Run(ctx, "configure", filepath.Join(p.SourceDir, "Configure"), args...)
}

// Build builds the libraries only.
func (o *OpenSSL) Build(ctx context.Context) error {
	return o.Run(ctx, "build", "make", "-j"+o.Project().JobsArg(), "build_libs")
}

// Install installs the libraries, headers and pkg-config files.
func (o *OpenSSL) Install(ctx context.Context) error {
	return o.Run(ctx, "install", "make", "install_dev")
}

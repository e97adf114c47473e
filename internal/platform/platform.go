// Package platform describes the machines dependencies are built for.
package platform

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Toolchain names the programs and flags used to build for a Target.
// Empty program fields fall back to defaults derived from the triple.
type Toolchain struct {
	CC      string `yaml:"cc"`
	CXX     string `yaml:"cxx"`
	AR      string `yaml:"ar"`
	RANLIB  string `yaml:"ranlib"`
	STRIP   string `yaml:"strip"`
	NM      string `yaml:"nm"`
	WINDRES string `yaml:"windres"`

	CFLAGS   []string `yaml:"-"`
	CXXFLAGS []string `yaml:"-"`
	CPPFLAGS []string `yaml:"-"`
	LDFLAGS  []string `yaml:"-"`
	LIBS     []string `yaml:"-"`
}

// Target is a platform a dependency is compiled for.
type Target struct {
	OS        string
	Arch      string
	Triple    string
	Sysroot   string
	Toolchain Toolchain

	host string
}

// Parse parses an "os-arch" string such as "windows-amd64".
func Parse(s string) (Target, error) {
	goos, arch, ok := strings.Cut(s, "-")
	if !ok || goos == "" || arch == "" {
		return Target{}, fmt.Errorf("invalid target %q: want os-arch", s)
	}
	if _, ok := cpuNames[arch]; !ok {
		return Target{}, fmt.Errorf("invalid target %q: unknown arch %q", s, arch)
	}
	triple, err := triple(goos, arch)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	t := Target{
		OS:     goos,
		Arch:   arch,
		Triple: triple,
		host:   runtime.GOOS + "-" + runtime.GOARCH,
	}
	t.Toolchain = t.defaultToolchain()
	return t, nil
}

// Host returns the Target of the running machine.
func Host() Target {
	t, err := Parse(runtime.GOOS + "-" + runtime.GOARCH)
	if err != nil {
		// unknown host arch: keep native tools, no triple
		return Target{
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			host:      runtime.GOOS + "-" + runtime.GOARCH,
			Toolchain: nativeToolchain(),
		}
	}
	return t
}

// String returns the "os-arch" form of t.
func (t Target) String() string {
	return t.OS + "-" + t.Arch
}

// IsWindows reports whether t produces Windows binaries.
func (t Target) IsWindows() bool {
	return t.OS == "windows"
}

// IsCross reports whether t differs from the machine running the build.
func (t Target) IsCross() bool {
	host := t.host
	if host == "" {
		host = runtime.GOOS + "-" + runtime.GOARCH
	}
	return t.String() != host
}

// Matches reports whether selector applies to t. A selector is an OS
// ("windows"), an arch ("arm64") or a full "os-arch" pair.
func (t Target) Matches(selector string) bool {
	switch selector {
	case t.OS, t.Arch, t.String():
		return true
	}
	return false
}

// CPU returns the GNU name of the target processor.
func (t Target) CPU() string {
	return cpuNames[t.Arch]
}

// CPUFamily returns the meson cpu_family of the target.
func (t Target) CPUFamily() string {
	switch t.Arch {
	case "386":
		return "x86"
	case "arm":
		return "arm"
	}
	return t.CPU()
}

// WithToolchain returns a copy of t whose non-empty toolchain fields are
// replaced by the ones in tc. Flag lists are appended.
func (t Target) WithToolchain(tc Toolchain) Target {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&t.Toolchain.CC, tc.CC)
	set(&t.Toolchain.CXX, tc.CXX)
	set(&t.Toolchain.AR, tc.AR)
	set(&t.Toolchain.RANLIB, tc.RANLIB)
	set(&t.Toolchain.STRIP, tc.STRIP)
	set(&t.Toolchain.NM, tc.NM)
	set(&t.Toolchain.WINDRES, tc.WINDRES)
	t.Toolchain.CFLAGS = append(clone(t.Toolchain.CFLAGS), tc.CFLAGS...)
	t.Toolchain.CXXFLAGS = append(clone(t.Toolchain.CXXFLAGS), tc.CXXFLAGS...)
	t.Toolchain.CPPFLAGS = append(clone(t.Toolchain.CPPFLAGS), tc.CPPFLAGS...)
	t.Toolchain.LDFLAGS = append(clone(t.Toolchain.LDFLAGS), tc.LDFLAGS...)
	t.Toolchain.LIBS = append(clone(t.Toolchain.LIBS), tc.LIBS...)
	return t
}

var cpuNames = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"arm":     "arm",
	"riscv64": "riscv64",
}

func triple(goos, arch string) (string, error) {
	cpu := cpuNames[arch]
	switch goos {
	case "linux":
		if arch == "arm" {
			return "arm-linux-gnueabihf", nil
		}
		return cpu + "-linux-gnu", nil
	case "windows":
		return cpu + "-w64-mingw32", nil
	case "darwin":
		return cpu + "-apple-darwin", nil
	case "android":
		if arch == "arm" {
			return "armv7a-linux-androideabi", nil
		}
		return cpu + "-linux-android", nil
	case "freebsd":
		return cpu + "-unknown-freebsd", nil
	}
	return "", fmt.Errorf("unsupported os %q", goos)
}

func (t Target) defaultToolchain() Toolchain {
	if !t.IsCross() {
		return nativeToolchain()
	}
	p := t.Triple + "-"
	tc := Toolchain{
		CC:     p + "gcc",
		CXX:    p + "g++",
		AR:     p + "ar",
		RANLIB: p + "ranlib",
		STRIP:  p + "strip",
		NM:     p + "nm",
	}
	if t.IsWindows() {
		tc.WINDRES = p + "windres"
	}
	return tc
}

func nativeToolchain() Toolchain {
	return Toolchain{
		CC:     getenv("CC", "cc"),
		CXX:    getenv("CXX", "c++"),
		AR:     getenv("AR", "ar"),
		RANLIB: getenv("RANLIB", "ranlib"),
		STRIP:  getenv("STRIP", "strip"),
		NM:     getenv("NM", "nm"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

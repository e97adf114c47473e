// Package cmake wraps the cmake configure/build/install workflow.
package cmake

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/musicpd/depbuild/internal/buildsys"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake drives CMake-based builds.
type CMake struct {
	p         *buildsys.Project
	env       map[string]string
	generator string
	buildType string
	toolchain string
	defines   map[string]defineValue
}

// New returns a CMake building p with Ninja in Release mode.
func New(p *buildsys.Project) *CMake {
	return &CMake{
		p:         p,
		env:       buildsys.Env(p),
		generator: "Ninja",
		buildType: "Release",
		defines:   make(map[string]defineValue),
	}
}

// Generator sets the CMake generator (e.g. "Ninja", "Unix Makefiles").
func (c *CMake) Generator(name string) { c.generator = name }

// BuildType sets CMAKE_BUILD_TYPE (e.g. "Release", "Debug").
func (c *CMake) BuildType(name string) { c.buildType = name }

// Toolchain sets CMAKE_TOOLCHAIN_FILE.
func (c *CMake) Toolchain(path string) { c.toolchain = path }

// Define adds a -D<key>:STRING=<value> definition.
func (c *CMake) Define(key, value string) {
	c.defines[key] = defineValue{value: value, typeName: "STRING"}
}

// DefineBool adds a -D<key>:BOOL=ON/OFF definition.
func (c *CMake) DefineBool(key string, value bool) {
	v := "OFF"
	if value {
		v = "ON"
	}
	c.defines[key] = defineValue{value: v, typeName: "BOOL"}
}

var systemNames = map[string]string{
	"windows": "Windows",
	"linux":   "Linux",
	"darwin":  "Darwin",
	"android": "Android",
	"freebsd": "FreeBSD",
}

// ConfigureArgs returns the arguments of the configure invocation. The
// project's flags come last so they override the defaults.
func (c *CMake) ConfigureArgs() []string {
	p := c.p
	tc := p.Target.Toolchain
	c.Define("CMAKE_INSTALL_PREFIX", p.Prefix)
	c.Define("CMAKE_PREFIX_PATH", p.Prefix)
	c.Define("CMAKE_INSTALL_LIBDIR", "lib")
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	if c.toolchain != "" {
		c.Define("CMAKE_TOOLCHAIN_FILE", c.toolchain)
	}
	defineTool := func(key, value string) {
		if value != "" {
			c.Define(key, value)
		}
	}
	defineTool("CMAKE_C_COMPILER", tc.CC)
	defineTool("CMAKE_CXX_COMPILER", tc.CXX)
	defineTool("CMAKE_AR", tc.AR)
	defineTool("CMAKE_RANLIB", tc.RANLIB)
	cppflags := p.CPPFLAGS()
	c.Define("CMAKE_C_FLAGS", strings.Join(append(p.CFLAGS(), cppflags...), " "))
	c.Define("CMAKE_CXX_FLAGS", strings.Join(append(p.CXXFLAGS(), cppflags...), " "))
	c.Define("CMAKE_EXE_LINKER_FLAGS", strings.Join(p.LDFLAGS(), " "))

	if p.Target.IsCross() {
		c.Define("CMAKE_SYSTEM_NAME", systemNames[p.Target.OS])
		c.Define("CMAKE_SYSTEM_PROCESSOR", p.Target.CPU())
		roots := p.Prefix
		if p.Target.Sysroot != "" {
			c.Define("CMAKE_SYSROOT", p.Target.Sysroot)
			roots += ";" + p.Target.Sysroot
		}
		c.Define("CMAKE_FIND_ROOT_PATH", roots)
		c.Define("CMAKE_FIND_ROOT_PATH_MODE_PROGRAM", "NEVER")
		c.Define("CMAKE_FIND_ROOT_PATH_MODE_LIBRARY", "ONLY")
		c.Define("CMAKE_FIND_ROOT_PATH_MODE_INCLUDE", "ONLY")
		c.Define("CMAKE_FIND_ROOT_PATH_MODE_PACKAGE", "ONLY")
		defineTool("CMAKE_RC_COMPILER", tc.WINDRES)
	}

	args := []string{"-S", p.SourceDir, "-B", p.BuildDir}
	if c.generator != "" {
		args = append(args, "-G", c.generator)
	}
	args = append(args, c.definesArgs()...)
	return append(args, p.Flags...)
}

// Configure runs "cmake -S <source> -B <build>" with all configured options.
func (c *CMake) Configure(ctx context.Context) error {
	if err := os.MkdirAll(c.p.BuildDir, 0o755); err != nil {
		return err
	}
	return c.run(ctx, "configure", c.ConfigureArgs())
}

// Build runs "cmake --build <build>".
func (c *CMake) Build(ctx context.Context) error {
	args := []string{"--build", c.p.BuildDir, "--parallel", c.p.JobsArg()}
	if c.buildType != "" {
		args = append(args, "--config", c.buildType)
	}
	return c.run(ctx, "build", args)
}

// Install runs "cmake --install <build>".
func (c *CMake) Install(ctx context.Context) error {
	return c.run(ctx, "install", []string{"--install", c.p.BuildDir, "--prefix", c.p.Prefix})
}

func (c *CMake) run(ctx context.Context, step string, args []string) error {
	return c.p.Exec(ctx, buildsys.Command{
		Step: step,
		Dir:  c.p.BuildDir,
		Name: "cmake",
		Args: args,
		Env:  c.env,
	})
}

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := c.defines[k]
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}

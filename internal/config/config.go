// Package config loads the depbuild configuration: an optional YAML file,
// a .env file and DEPBUILD_* environment variables, in increasing order of
// precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"
	"github.com/musicpd/depbuild/internal/env"
	"github.com/musicpd/depbuild/internal/mirror"
	"github.com/musicpd/depbuild/internal/platform"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DEPBUILD_"

type Config struct {
	// Manifest is the dependency manifest. Empty means the built-in one.
	Manifest string `yaml:"manifest"`
	Paths    Paths  `yaml:"paths"`
	// Jobs is the parallelism passed to make and ninja.
	Jobs   int           `yaml:"jobs"`
	Fetch  Fetch         `yaml:"fetch"`
	Mirror mirror.Config `yaml:"mirror"`
	// Toolchains overrides tools and flags per "os-arch" target.
	Toolchains map[string]Toolchain `yaml:"toolchains"`
}

type Paths struct {
	Root      string `yaml:"root"`
	Downloads string `yaml:"downloads"`
}

type Fetch struct {
	Retries int      `yaml:"retries"`
	Timeout Duration `yaml:"timeout"`
}

// Duration is a time.Duration written as "90s" or "10m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Toolchain is the configurable part of a platform.Toolchain. Flag fields
// are shell words, split with shell quoting rules.
type Toolchain struct {
	CC       string `yaml:"cc"`
	CXX      string `yaml:"cxx"`
	AR       string `yaml:"ar"`
	RANLIB   string `yaml:"ranlib"`
	STRIP    string `yaml:"strip"`
	NM       string `yaml:"nm"`
	WINDRES  string `yaml:"windres"`
	Sysroot  string `yaml:"sysroot"`
	CFLAGS   string `yaml:"extra_cflags"`
	CXXFLAGS string `yaml:"extra_cxxflags"`
	CPPFLAGS string `yaml:"extra_cppflags"`
	LDFLAGS  string `yaml:"extra_ldflags"`
	LIBS     string `yaml:"extra_libs"`
}

// Platform converts t to a platform.Toolchain.
func (t Toolchain) Platform() (platform.Toolchain, error) {
	tc := platform.Toolchain{
		CC:      t.CC,
		CXX:     t.CXX,
		AR:      t.AR,
		RANLIB:  t.RANLIB,
		STRIP:   t.STRIP,
		NM:      t.NM,
		WINDRES: t.WINDRES,
	}
	flags := []struct {
		name string
		src  string
		dst  *[]string
	}{
		{"extra_cflags", t.CFLAGS, &tc.CFLAGS},
		{"extra_cxxflags", t.CXXFLAGS, &tc.CXXFLAGS},
		{"extra_cppflags", t.CPPFLAGS, &tc.CPPFLAGS},
		{"extra_ldflags", t.LDFLAGS, &tc.LDFLAGS},
		{"extra_libs", t.LIBS, &tc.LIBS},
	}
	for _, f := range flags {
		words, err := shellquote.Split(f.src)
		if err != nil {
			return platform.Toolchain{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = words
	}
	return tc, nil
}

// Default returns the configuration used when nothing is configured.
func Default() (*Config, error) {
	root, err := env.WorkDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		Paths: Paths{Root: root},
		Jobs:  runtime.NumCPU(),
		Fetch: Fetch{
			Retries: 3,
			Timeout: Duration(10 * time.Minute),
		},
	}, nil
}

// Load returns the configuration read from path, or from $DEPBUILD_CONFIG
// when path is empty. A .env file in the working directory is loaded first;
// variables already set in the environment win over it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := c.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes data over the defaults. Environment overrides are not
// applied.
func Parse(data []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := c.decode(data); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("MANIFEST", &c.Manifest)
	str("ROOT", &c.Paths.Root)
	str("DOWNLOADS", &c.Paths.Downloads)
	str("MIRROR_BUCKET", &c.Mirror.Bucket)
	str("MIRROR_ENDPOINT", &c.Mirror.Endpoint)
	str("MIRROR_REGION", &c.Mirror.Region)
	str("MIRROR_ACCESS_KEY", &c.Mirror.AccessKey)
	str("MIRROR_SECRET_KEY", &c.Mirror.SecretKey)
	str("MIRROR_PREFIX", &c.Mirror.Prefix)
	if err := num("JOBS", &c.Jobs); err != nil {
		return err
	}
	if err := num("FETCH_RETRIES", &c.Fetch.Retries); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvPrefix + "FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sFETCH_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Fetch.Timeout = Duration(d)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Paths.Root == "" {
		return errors.New("config: empty paths.root")
	}
	if c.Jobs < 0 {
		return fmt.Errorf("config: negative jobs %d", c.Jobs)
	}
	if c.Fetch.Retries < 1 {
		return fmt.Errorf("config: fetch.retries must be at least 1, got %d", c.Fetch.Retries)
	}
	for name, tc := range c.Toolchains {
		if _, err := platform.Parse(name); err != nil {
			return fmt.Errorf("config: toolchains: %w", err)
		}
		if _, err := tc.Platform(); err != nil {
			return fmt.Errorf("config: toolchains: %s: %w", name, err)
		}
	}
	return nil
}

// DownloadDir returns the archive cache directory.
func (c *Config) DownloadDir() string {
	if c.Paths.Downloads != "" {
		return c.Paths.Downloads
	}
	return env.DownloadDir(c.Paths.Root)
}

// TargetDir returns the working area of target.
func (c *Config) TargetDir(target platform.Target) string {
	return env.TargetDir(c.Paths.Root, target.String())
}

// Target parses name and applies the configured toolchain overrides.
func (c *Config) Target(name string) (platform.Target, error) {
	t, err := platform.Parse(name)
	if err != nil {
		return platform.Target{}, err
	}
	return c.apply(t)
}

// Host returns the host target with the configured toolchain overrides.
func (c *Config) Host() (platform.Target, error) {
	return c.apply(platform.Host())
}

func (c *Config) apply(t platform.Target) (platform.Target, error) {
	over, ok := c.Toolchains[t.String()]
	if !ok {
		return t, nil
	}
	tc, err := over.Platform()
	if err != nil {
		return platform.Target{}, err
	}
	t = t.WithToolchain(tc)
	if over.Sysroot != "" {
		t.Sysroot = over.Sysroot
	}
	return t, nil
}

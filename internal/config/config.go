// Package config loads and validates the service configuration.
//
// Configuration comes from a YAML file with defaults applied for anything
// unset, so an empty file (or no file at all) yields a working local-demo
// configuration. Validation happens at load time; the rest of the service
// assumes a valid Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the corresponding field is unset.
const (
	DefaultListenAddr   = ":8080"
	DefaultGitHost      = "https://github.com"
	DefaultCloneDepth   = 1
	DefaultDockerBinary = "docker"
	DefaultKubectlBin   = "kubectl"
	DefaultStageTimeout = 5 * time.Minute
	DefaultProbeTimeout = 5 * time.Second
	DefaultQueryTimeout = 3 * time.Second
)

// Default environment variable names for registry credentials.
const (
	DefaultRegistryUserEnv     = "REGISTRY_USERNAME"
	DefaultRegistryPasswordEnv = "REGISTRY_PASSWORD"
)

// Duration wraps time.Duration with YAML support for values like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GitConfig configures the checkout stage.
type GitConfig struct {
	// Host is the base URL clone URLs are built from.
	Host string `yaml:"host"`

	// CloneDepth is the shallow clone depth.
	CloneDepth int `yaml:"cloneDepth"`

	// WorkdirRoot is where working trees are created. Empty means the
	// system temp directory.
	WorkdirRoot string `yaml:"workdirRoot"`

	// Timeout bounds the checkout stage.
	Timeout Duration `yaml:"timeout"`
}

// TestConfig configures the test stage.
type TestConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// RegistryConfig configures image build and push.
type RegistryConfig struct {
	// Binary is the container CLI used for build and push.
	Binary string `yaml:"binary"`

	// Host is the registry host images are pushed to (e.g. "ghcr.io").
	// Empty disables the push stage's registry probe and leaves push
	// gated on credentials alone.
	Host string `yaml:"host"`

	// UsernameEnv and PasswordEnv name the environment variables holding
	// registry credentials. Their absence skips the push stage.
	UsernameEnv string `yaml:"usernameEnv"`
	PasswordEnv string `yaml:"passwordEnv"`

	// PlainHTTP allows talking to a registry without TLS. Local demo
	// registries only.
	PlainHTTP bool `yaml:"plainHTTP"`

	BuildTimeout Duration `yaml:"buildTimeout"`
	PushTimeout  Duration `yaml:"pushTimeout"`
}

// DeployConfig configures the deploy stage.
type DeployConfig struct {
	// Binary is the cluster-management CLI.
	Binary string `yaml:"binary"`

	// Deployment and Container identify the workload whose image
	// reference is updated.
	Deployment string `yaml:"deployment"`
	Container  string `yaml:"container"`

	// Namespace is optional; empty uses the CLI's current namespace.
	Namespace string `yaml:"namespace"`

	// ProbeTimeout bounds the availability check, Timeout the rollout
	// command itself.
	ProbeTimeout Duration `yaml:"probeTimeout"`
	Timeout      Duration `yaml:"timeout"`
}

// MetricsConfig configures the read-only time-series backend.
type MetricsConfig struct {
	// PrometheusURL is the base URL of the Prometheus API. Empty means no
	// metrics backend; snapshots report disconnected.
	PrometheusURL string `yaml:"prometheusURL"`

	// QueryTimeout bounds each query.
	QueryTimeout Duration `yaml:"queryTimeout"`
}

// Config is the top-level service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listenAddr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	Git      GitConfig      `yaml:"git"`
	Test     TestConfig     `yaml:"test"`
	Registry RegistryConfig `yaml:"registry"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Tools maps tool names to dashboard URLs served on /api/tools for
	// convenience links (git host, registry UI, metrics UI, graph UI).
	Tools map[string]string `yaml:"tools"`
}

// Load reads the configuration file at path, applies defaults, and
// validates. An empty path skips the file and returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Git.Host == "" {
		c.Git.Host = DefaultGitHost
	}
	if c.Git.CloneDepth == 0 {
		c.Git.CloneDepth = DefaultCloneDepth
	}
	if c.Git.Timeout == 0 {
		c.Git.Timeout = Duration(DefaultStageTimeout)
	}

	if c.Test.Timeout == 0 {
		c.Test.Timeout = Duration(DefaultStageTimeout)
	}

	if c.Registry.Binary == "" {
		c.Registry.Binary = DefaultDockerBinary
	}
	if c.Registry.UsernameEnv == "" {
		c.Registry.UsernameEnv = DefaultRegistryUserEnv
	}
	if c.Registry.PasswordEnv == "" {
		c.Registry.PasswordEnv = DefaultRegistryPasswordEnv
	}
	if c.Registry.BuildTimeout == 0 {
		c.Registry.BuildTimeout = Duration(DefaultStageTimeout)
	}
	if c.Registry.PushTimeout == 0 {
		c.Registry.PushTimeout = Duration(DefaultStageTimeout)
	}

	if c.Deploy.Binary == "" {
		c.Deploy.Binary = DefaultKubectlBin
	}
	if c.Deploy.ProbeTimeout == 0 {
		c.Deploy.ProbeTimeout = Duration(DefaultProbeTimeout)
	}
	if c.Deploy.Timeout == 0 {
		c.Deploy.Timeout = Duration(DefaultStageTimeout)
	}

	if c.Metrics.QueryTimeout == 0 {
		c.Metrics.QueryTimeout = Duration(DefaultQueryTimeout)
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logLevel %q", c.LogLevel))
	}

	if c.Git.CloneDepth < 0 {
		errs = append(errs, errors.New("git.cloneDepth cannot be negative"))
	}

	for _, d := range []struct {
		name string
		d    Duration
	}{
		{"git.timeout", c.Git.Timeout},
		{"test.timeout", c.Test.Timeout},
		{"registry.buildTimeout", c.Registry.BuildTimeout},
		{"registry.pushTimeout", c.Registry.PushTimeout},
		{"deploy.timeout", c.Deploy.Timeout},
		{"metrics.queryTimeout", c.Metrics.QueryTimeout},
	} {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", d.name))
		}
	}

	return errors.Join(errs...)
}

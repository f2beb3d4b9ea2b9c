// Package config loads the runtime's TOML configuration (spec.md §6),
// grounded on original_source/northstar-runtime/src/runtime/config.rs.
// Field names and defaults mirror that Rust Config exactly; the
// deny_unknown_fields contract there is carried here via
// go-toml/v2's DisallowUnknownFields decoder option, matching the
// teacher's own strict-parse habit in its yaml.v2 code paths.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultEventBufferSize        = 256
	defaultNotificationBufferSize = 128
	defaultDeviceMapperTimeout    = 10 * time.Second
	defaultLoopDeviceTimeout      = 10 * time.Second
	defaultTokenValidity          = 60 * time.Second
)

// Duration wraps time.Duration to accept TOML strings like "10s" the way
// the original's humantime_serde does.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// RepositoryType distinguishes directory-backed from memfd-backed
// repositories (spec.md §3/§4.B).
type RepositoryType string

const (
	RepositoryTypeFS     RepositoryType = "fs"
	RepositoryTypeMemory RepositoryType = "mem"
)

// RepositoryConfig is one entry of the top-level "repositories" table.
type RepositoryConfig struct {
	MountOnStart bool           `toml:"mount_on_start"`
	Key          string         `toml:"key,omitempty"`
	Type         RepositoryType `toml:"type"`
	Dir          string         `toml:"dir,omitempty"`
}

func (r *RepositoryConfig) validate(name string) error {
	switch r.Type {
	case RepositoryTypeFS:
		if r.Dir == "" {
			return fmt.Errorf("repository %q: fs repository requires dir", name)
		}
	case RepositoryTypeMemory:
		if r.Dir != "" {
			return fmt.Errorf("repository %q: mem repository must not set dir", name)
		}
	default:
		return fmt.Errorf("repository %q: type must be \"fs\" or \"mem\", got %q", name, r.Type)
	}
	return nil
}

// StraceOutput selects where strace output is routed (spec.md §4.D.2).
type StraceOutput string

const (
	StraceOutputFile StraceOutput = "file"
	StraceOutputLog  StraceOutput = "log"
)

// Strace carries the debug strace-attach options.
type Strace struct {
	Output         StraceOutput `toml:"output"`
	Path           string       `toml:"path,omitempty"`
	Flags          string       `toml:"flags,omitempty"`
	IncludeRuntime bool         `toml:"include_runtime,omitempty"`
}

// Perf carries the debug perf-attach options.
type Perf struct {
	Path  string `toml:"path,omitempty"`
	Flags string `toml:"flags,omitempty"`
}

// Debug is the optional [debug] table enabling the console and debug
// attach helpers (spec.md §4.D.2, out of scope: the helpers themselves are
// external collaborators, but the runtime still validates their config).
type Debug struct {
	Console string  `toml:"console"`
	Strace  *Strace `toml:"strace,omitempty"`
	Perf    *Perf   `toml:"perf,omitempty"`
}

// Config is the runtime's top-level configuration (spec.md §6).
type Config struct {
	RunDir  string `toml:"run_dir"`
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	Cgroup  string `toml:"cgroup"`

	EventBufferSize        int `toml:"event_buffer_size,omitempty"`
	NotificationBufferSize int `toml:"notification_buffer_size,omitempty"`

	DeviceMapperDeviceTimeout Duration `toml:"device_mapper_device_timeout,omitempty"`
	LoopDeviceTimeout         Duration `toml:"loop_device_timeout,omitempty"`
	TokenValidity             Duration `toml:"token_validity,omitempty"`

	Repositories map[string]RepositoryConfig `toml:"repositories,omitempty"`

	Debug *Debug `toml:"debug,omitempty"`
}

// Load reads and validates the runtime configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		EventBufferSize:           defaultEventBufferSize,
		NotificationBufferSize:    defaultNotificationBufferSize,
		DeviceMapperDeviceTimeout: Duration(defaultDeviceMapperTimeout),
		LoopDeviceTimeout:         Duration(defaultLoopDeviceTimeout),
		TokenValidity:             Duration(defaultTokenValidity),
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, dir := range []struct{ name, path string }{
		{"run_dir", c.RunDir}, {"data_dir", c.DataDir}, {"log_dir", c.LogDir},
	} {
		if dir.path == "" {
			return fmt.Errorf("%s must be set", dir.name)
		}
		if err := checkRWDirectory(dir.path); err != nil {
			return fmt.Errorf("checking %s: %w", dir.name, err)
		}
	}
	if c.Cgroup == "" {
		return fmt.Errorf("cgroup must be set")
	}

	for name, repo := range c.Repositories {
		repo := repo
		if err := repo.validate(name); err != nil {
			return err
		}
	}

	if c.Debug != nil {
		u, err := url.Parse(c.Debug.Console)
		if err != nil {
			return fmt.Errorf("debug.console: %w", err)
		}
		if u.Scheme != "tcp" && u.Scheme != "unix" {
			return fmt.Errorf("debug.console scheme must be tcp or unix, got %q", u.Scheme)
		}
	}

	return nil
}

// checkRWDirectory requires path to exist and be readable and writeable by
// the current process, mirroring config.rs's is_rw check.
func checkRWDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s does not exist", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	probe, err := os.CreateTemp(path, ".northstar-rw-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writeable: %w", path, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

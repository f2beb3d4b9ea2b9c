// Package npk implements the NPK package codec (spec.md §4.A): manifest
// parsing and validation, signature verification, and location of the
// squashfs byte range inside the package stream. It is grounded on the
// original Rust manifest (original_source/northstar-runtime/src/npk/manifest)
// and, for the YAML decode/validate idiom, on the teacher's own habit of
// decoding declarative config with gopkg.in/yaml.v2 throughout
// internal/pkg/build.
package npk

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver/v4"
	"gopkg.in/yaml.v2"

	"github.com/ceigel/northstar/internal/pkg/container"
)

// Autostart is the manifest's autostart policy (spec.md §3).
type Autostart string

const (
	AutostartNone     Autostart = "none"
	AutostartRelaxed  Autostart = "relaxed"
	AutostartCritical Autostart = "critical"
)

// IORouting selects where a stdio stream of the container is routed.
type IORouting string

const (
	IOPipe    IORouting = "pipe"
	IONull    IORouting = "null"
	IOInherit IORouting = "inherit"
)

// IO is the manifest's stdio configuration.
type IO struct {
	Stdout IORouting `yaml:"stdout,omitempty"`
	Stderr IORouting `yaml:"stderr,omitempty"`
}

// RLimit is a soft/hard resource limit pair.
type RLimit struct {
	Soft *uint64 `yaml:"soft,omitempty"`
	Hard *uint64 `yaml:"hard,omitempty"`
}

// CGroupsConfig carries the cgroups v2 controller settings the launcher
// writes under the container's cgroup path (spec.md §4.D).
type CGroupsConfig struct {
	CPU    *CPUCGroup    `yaml:"cpu,omitempty"`
	Memory *MemoryCGroup `yaml:"memory,omitempty"`
}

type CPUCGroup struct {
	Shares *uint64 `yaml:"shares,omitempty"`
	Weight *uint64 `yaml:"weight,omitempty"`
	Cpus   string  `yaml:"cpus,omitempty"`
}

type MemoryCGroup struct {
	Limit     *int64 `yaml:"memory_hard_limit,omitempty"`
	SoftLimit *int64 `yaml:"memory_soft_limit,omitempty"`
	Swappiness *uint64 `yaml:"swappiness,omitempty"`
}

// Network carries the host-shared network declaration. Its absence in the
// manifest means "unshare a fresh net namespace" (spec.md §3).
type Network struct {
	// Interfaces lists host interfaces moved into the container's net
	// namespace when it is shared. Empty means the host namespace is
	// shared wholesale.
	Interfaces []string `yaml:"interfaces,omitempty"`
}

// reservedEnvKeys are injected by the launcher and therefore forbidden in a
// manifest's own env map (spec.md §3).
var reservedEnvKeys = map[string]bool{
	"NORTHSTAR_CONSOLE":   true,
	"NORTHSTAR_NAME":      true,
	"NORTHSTAR_CONTAINER": true,
	"NORTHSTAR_VERSION":   true,
}

// Manifest is the authoritative per-container configuration carried inside
// an NPK (spec.md §3). Field names and YAML keys mirror the original Rust
// manifest so hand-written NPKs from the original tooling parse unchanged.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Init *string  `yaml:"init,omitempty"`
	Args []string `yaml:"args,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`

	Mounts map[string]Mount `yaml:"mounts,omitempty"`

	Autostart Autostart `yaml:"autostart,omitempty"`

	CGroups *CGroupsConfig `yaml:"cgroups,omitempty"`
	Network *Network       `yaml:"network,omitempty"`
	Seccomp *Seccomp       `yaml:"seccomp,omitempty"`
	SELinux string         `yaml:"selinux,omitempty"`

	Capabilities []string `yaml:"capabilities,omitempty"`
	SupplGroups  []string `yaml:"suppl_groups,omitempty"`

	RLimits map[string]RLimit `yaml:"rlimits,omitempty"`

	IO *IO `yaml:"io,omitempty"`
}

// ParseManifest decodes and validates manifest bytes (spec.md §4.A/§8
// property 1: parse(serialize(M)) == M for any valid M).
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true) // rejects duplicate mapping keys, spec.md §8 boundary behavior

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Serialize re-encodes the manifest to YAML bytes.
func (m *Manifest) Serialize() ([]byte, error) {
	return yaml.Marshal(m)
}

// Container returns the identity declared by this manifest.
func (m *Manifest) Container() (container.Container, error) {
	v, err := semver.Parse(m.Version)
	if err != nil {
		return container.Container{}, fmt.Errorf("invalid version: %w", err)
	}
	return container.New(m.Name, v)
}

// IsResource reports whether this manifest describes a mountable resource
// (no init, hence never launched) rather than an executable container.
func (m *Manifest) IsResource() bool {
	return m.Init == nil
}

// Validate runs every manifest-level check from spec.md §3/§4.A/§8.
func (m *Manifest) Validate() error {
	if err := container.ValidateName(m.Name); err != nil {
		return fmt.Errorf("manifest name: %w", err)
	}
	if _, err := semver.Parse(m.Version); err != nil {
		return fmt.Errorf("manifest version: %w", err)
	}

	if m.Init != nil {
		if err := validateNoNul(*m.Init, "init"); err != nil {
			return err
		}
		if !strings.HasPrefix(*m.Init, "/") {
			return fmt.Errorf("init must be an absolute path inside the rootfs")
		}
	}

	for i, a := range m.Args {
		if err := validateNoNul(a, fmt.Sprintf("args[%d]", i)); err != nil {
			return err
		}
	}

	for k, v := range m.Env {
		if reservedEnvKeys[k] {
			return fmt.Errorf("env key %q is reserved for the runtime", k)
		}
		if err := validateNoNul(k, "env key"); err != nil {
			return err
		}
		if err := validateNoNul(v, "env value"); err != nil {
			return err
		}
	}

	if m.Init != nil {
		if m.UID < 1 {
			return fmt.Errorf("uid must be >= 1, root is forbidden")
		}
		if m.GID < 1 {
			return fmt.Errorf("gid must be >= 1, root is forbidden")
		}
	}

	if err := validateMounts(m.Mounts); err != nil {
		return err
	}

	switch m.Autostart {
	case "", AutostartNone, AutostartRelaxed, AutostartCritical:
	default:
		return fmt.Errorf("invalid autostart value %q", m.Autostart)
	}

	seen := map[string]bool{}
	for _, g := range m.SupplGroups {
		if err := validateNoNul(g, "suppl_groups entry"); err != nil {
			return err
		}
		if len(g) > 32 {
			return fmt.Errorf("suppl_groups entry %q exceeds the OS 32-character limit", g)
		}
		if seen[g] {
			return fmt.Errorf("duplicate suppl_groups entry %q", g)
		}
		seen[g] = true
	}

	if m.Seccomp != nil {
		if err := m.Seccomp.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func validateNoNul(s, field string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%s must not contain a NUL byte", field)
	}
	return nil
}

// validateMounts enforces absolute, unique, non-overlapping targets
// (spec.md §3/§8 property 5) plus per-kind field validation.
func validateMounts(mounts map[string]Mount) error {
	targets := make([]string, 0, len(mounts))
	for target, mnt := range mounts {
		if !strings.HasPrefix(target, "/") {
			return fmt.Errorf("mount target %q must be absolute", target)
		}
		if err := mnt.Validate(); err != nil {
			return fmt.Errorf("mount %q: %w", target, err)
		}
		mounts[target] = mnt // Validate may populate derived fields (e.g. tmpfs size)
		targets = append(targets, target)
	}

	sort.Strings(targets)
	for i := 1; i < len(targets); i++ {
		for j := 0; j < i; j++ {
			a, b := targets[j], targets[i]
			if a == b {
				return fmt.Errorf("duplicate mount target %q", a)
			}
			if isPrefixPath(a, b) {
				return fmt.Errorf("mount target %q overlaps with %q", b, a)
			}
		}
	}
	return nil
}

// isPrefixPath reports whether a is a path-component prefix of b, i.e. b ==
// a or b starts with a + "/". String prefix alone would wrongly flag
// "/lib" against "/library".
func isPrefixPath(a, b string) bool {
	if a == b {
		return true
	}
	a = strings.TrimRight(a, "/")
	return strings.HasPrefix(b, a+"/")
}

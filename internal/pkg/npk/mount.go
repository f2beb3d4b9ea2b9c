package npk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// MountKind tags which of the five mount source variants (spec.md §3) a
// Mount value carries. Northstar models this as a tagged union dispatched by
// a Go switch, per spec.md §9's guidance on polymorphism.
type MountKind string

const (
	MountDev      MountKind = "dev"
	MountTmpfs    MountKind = "tmpfs"
	MountBind     MountKind = "bind"
	MountPersist  MountKind = "persist"
	MountResource MountKind = "resource"
)

// BindOption is one flag from the bind mount option set.
type BindOption string

const (
	BindRW     BindOption = "rw"
	BindNoExec BindOption = "noexec"
	BindNoSuid BindOption = "nosuid"
	BindNoDev  BindOption = "nodev"
	BindRec    BindOption = "rec"
)

var validBindOptions = map[BindOption]bool{
	BindRW: true, BindNoExec: true, BindNoSuid: true, BindNoDev: true, BindRec: true,
}

// Mount is a tagged union over the five mount source kinds. Only the fields
// relevant to Kind are populated; yaml tags match the original manifest's
// flat "type: <kind>" dialect.
type Mount struct {
	Type MountKind `yaml:"type"`

	// Tmpfs
	Size string `yaml:"size,omitempty"`

	// Bind
	Host    string   `yaml:"host,omitempty"`
	Options []string `yaml:"options,omitempty"`

	// Resource
	Name       string `yaml:"name,omitempty"`
	VersionReq string `yaml:"version,omitempty"`
	Subdir     string `yaml:"dir,omitempty"`

	// resolved at parse time from Size
	sizeBytes uint64
}

// SizeBytes returns the parsed tmpfs size. Valid only for MountTmpfs.
func (m Mount) SizeBytes() uint64 { return m.sizeBytes }

// BindOptionSet returns the parsed, validated set of bind mount options.
func (m Mount) BindOptionSet() map[BindOption]bool {
	set := make(map[BindOption]bool, len(m.Options))
	for _, o := range m.Options {
		set[BindOption(o)] = true
	}
	return set
}

// Validate checks the fields relevant to Kind and parses derived values
// (tmpfs size, resource version requirement).
func (m *Mount) Validate() error {
	switch m.Type {
	case MountDev, MountPersist:
		return nil
	case MountTmpfs:
		size, err := ParseSize(m.Size)
		if err != nil {
			return fmt.Errorf("tmpfs size: %w", err)
		}
		m.sizeBytes = size
		return nil
	case MountBind:
		if m.Host == "" {
			return fmt.Errorf("bind mount requires a host path")
		}
		if !strings.HasPrefix(m.Host, "/") {
			return fmt.Errorf("bind mount host path must be absolute")
		}
		for _, o := range m.Options {
			if !validBindOptions[BindOption(o)] {
				return fmt.Errorf("unknown bind mount option %q", o)
			}
		}
		return nil
	case MountResource:
		if m.Name == "" {
			return fmt.Errorf("resource mount requires a name")
		}
		if m.VersionReq != "" {
			if _, err := semver.ParseRange(m.VersionReq); err != nil {
				return fmt.Errorf("resource mount version requirement: %w", err)
			}
		}
		if m.Subdir != "" && !strings.HasPrefix(m.Subdir, "/") {
			return fmt.Errorf("resource mount subdir must be absolute")
		}
		return nil
	default:
		return fmt.Errorf("unknown mount type %q", m.Type)
	}
}

// ParseSize parses the decimal SI suffixes the manifest accepts for tmpfs
// sizes: a bare integer, or one suffixed with kB/MB/GB (1e3/1e6/1e9 -
// decimal, never the binary Ki/Mi/Gi units), per spec.md §4.A.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := uint64(1)
	numeric := s
	switch {
	case strings.HasSuffix(s, "kB"):
		multiplier = 1_000
		numeric = strings.TrimSuffix(s, "kB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1_000_000
		numeric = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1_000_000_000
		numeric = strings.TrimSuffix(s, "GB")
	}

	n, err := strconv.ParseUint(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * multiplier, nil
}

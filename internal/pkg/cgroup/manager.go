// Package cgroup manages the per-container cgroup v2 tree under the
// configured parent cgroup (spec.md §4.D.1: "Create cgroup path
// <cgroup>/<name>:<version> and write controller values... Enable
// controllers in the parent before writing leaves"). It is grounded on
// ManagerLC in internal/pkg/cgroups/manager_libcontainer_linux.go: the same
// specconv.CreateCgroupConfig + lcmanager.New/Apply/Set sequence
// ApplyFromSpec uses there, retargeted from an OCI LinuxResources spec
// passed in by a caller to one built from the manifest's cgroups config.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"

	lccgroups "github.com/opencontainers/runc/libcontainer/cgroups"
	lcmanager "github.com/opencontainers/runc/libcontainer/cgroups/manager"
	"github.com/opencontainers/runc/libcontainer/specconv"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

const unifiedMountPoint = "/sys/fs/cgroup"

// Manager owns one container's cgroup under the runtime's configured
// parent cgroup path.
type Manager struct {
	path  string
	group lccgroups.Manager
}

// PathFor returns the cgroup path (relative to the unified mountpoint) for
// a container identity under parentCgroup.
func PathFor(parentCgroup, name, version string) string {
	return filepath.Join(parentCgroup, fmt.Sprintf("%s:%s", name, version))
}

// toResources translates the manifest's cgroups config into the OCI
// LinuxResources shape specconv expects (spec.md §4.D.1: "write controller
// values (cpu shares/weight, memory limits)").
func toResources(cfg *npk.CGroupsConfig) *specs.LinuxResources {
	resources := &specs.LinuxResources{}
	if cfg == nil {
		return resources
	}
	if cfg.CPU != nil {
		resources.CPU = &specs.LinuxCPU{}
		if cfg.CPU.Shares != nil {
			resources.CPU.Shares = cfg.CPU.Shares
		}
		if cfg.CPU.Cpus != "" {
			resources.CPU.Cpus = cfg.CPU.Cpus
		}
	}
	if cfg.Memory != nil {
		resources.Memory = &specs.LinuxMemory{}
		if cfg.Memory.Limit != nil {
			resources.Memory.Limit = cfg.Memory.Limit
		}
		if cfg.Memory.SoftLimit != nil {
			resources.Memory.Reservation = cfg.Memory.SoftLimit
		}
		if cfg.Memory.Swappiness != nil {
			resources.Memory.Swappiness = cfg.Memory.Swappiness
		}
	}
	return resources
}

// New creates the cgroup at <parentCgroup>/<name>:<version>, places pid in
// it, and writes cfg's controller values, enabling controllers in the
// parent before writing leaves (delegated to specconv/libcontainer, which
// enables cgroup v2 controller files top-down as it walks the path).
func New(parentCgroup, name, version string, pid int, cfg *npk.CGroupsConfig) (*Manager, error) {
	path := PathFor(parentCgroup, name, version)

	spec := &specs.Spec{
		Linux: &specs.Linux{
			CgroupsPath: path,
			Resources:   toResources(cfg),
		},
	}
	opts := &specconv.CreateOpts{
		CgroupName:       path,
		UseSystemdCgroup: false,
		RootlessCgroups:  false,
		Spec:             spec,
	}

	lcConfig, err := specconv.CreateCgroupConfig(opts, nil)
	if err != nil {
		return nil, fmt.Errorf("building cgroup config for %s: %w", path, err)
	}

	group, err := lcmanager.New(lcConfig)
	if err != nil {
		return nil, fmt.Errorf("creating cgroup manager for %s: %w", path, err)
	}
	if err := group.Apply(pid); err != nil {
		return nil, fmt.Errorf("adding pid %d to cgroup %s: %w", pid, path, err)
	}
	if err := group.Set(lcConfig.Resources); err != nil {
		return nil, fmt.Errorf("setting cgroup %s limits: %w", path, err)
	}

	return &Manager{path: path, group: group}, nil
}

// Remove tears down the container's cgroup.
func (m *Manager) Remove() error {
	if m.group == nil {
		return nil
	}
	if err := m.group.Destroy(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cgroup %s: %w", m.path, err)
	}
	return nil
}

// Path returns the absolute cgroupfs path for this container's cgroup.
func (m *Manager) Path() string {
	return filepath.Join(unifiedMountPoint, m.path)
}

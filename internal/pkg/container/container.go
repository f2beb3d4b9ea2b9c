// Package container implements the (name, version) identity shared by every
// core component (spec.md §3). It is grounded on the original Rust runtime's
// common::container::Container, adapted to Go value semantics: a Container
// here is a small immutable struct compared by value instead of an Arc.
package container

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blang/semver/v4"
)

// nameRe restricts container names to the safe set the manifest codec
// enforces: alphanumeric, '-', '_', '.'.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

const maxNameLength = 1024

// Container is the immutable (name, version) identity used as a map key
// across the repository, supervisor and mount engine. The version is kept
// as its canonical string form rather than a semver.Version directly:
// semver.Version carries slice fields (Pre, Build) that make it
// incomparable, and Container must stay a valid, comparable map key.
type Container struct {
	name    string
	version string
}

// New validates name and version and returns a Container identity.
func New(name string, version semver.Version) (Container, error) {
	if err := ValidateName(name); err != nil {
		return Container{}, err
	}
	return Container{name: name, version: version.String()}, nil
}

// ValidateName enforces the restricted character set and length bound a
// manifest name (and suppl_groups/resource names) must satisfy.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("container name must not be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("container name exceeds %d characters", maxNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("container name must not contain NUL")
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("container name %q contains characters outside [A-Za-z0-9_.-]", name)
	}
	return nil
}

// Parse decodes "name:version" into a Container identity, the textual
// encoding spec.md §3 specifies.
func Parse(s string) (Container, error) {
	name, versionStr, ok := strings.Cut(s, ":")
	if !ok {
		return Container{}, fmt.Errorf("missing container version in %q", s)
	}
	if err := ValidateName(name); err != nil {
		return Container{}, fmt.Errorf("invalid name: %w", err)
	}
	version, err := semver.Parse(versionStr)
	if err != nil {
		return Container{}, fmt.Errorf("invalid container version: %w", err)
	}
	return Container{name: name, version: version.String()}, nil
}

// Name returns the container name.
func (c Container) Name() string { return c.name }

// Version returns the container's semantic version, reparsed from its
// stored canonical string form. The parse cannot fail for a Container
// built through New or Parse, since both validate the version up front.
func (c Container) Version() semver.Version {
	v, _ := semver.Parse(c.version)
	return v
}

// String encodes the identity as "name:version".
func (c Container) String() string {
	return fmt.Sprintf("%s:%s", c.name, c.version)
}

// FileStem returns the "name-version" form used for on-disk NPK filenames
// and dm-verity/loop device names (spec.md §3, §4.C).
func (c Container) FileStem() string {
	return fmt.Sprintf("%s-%s", c.name, c.version)
}

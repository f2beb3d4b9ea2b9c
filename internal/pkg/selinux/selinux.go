// Package selinux applies a container's manifest SELinux label before
// execve, adapted from internal/pkg/security/selinux's build-tag-gated
// wrapper. Northstar has no non-SELinux build variant to switch on, so the
// //go:build selinux tag is dropped: Enabled simply reports false on
// systems where the kernel module isn't loaded.
package selinux

import "github.com/opencontainers/selinux/go-selinux"

// Enabled returns whether SELinux is enabled on this host.
func Enabled() bool {
	return selinux.GetEnabled()
}

// SetExecLabel sets the SELinux label the next execve(2) on the calling
// thread will run under (spec.md §4.D.5.i).
func SetExecLabel(label string) error {
	return selinux.SetExecLabel(label)
}

// Package bin locates external binaries the mount engine and launcher
// shell out to (spec.md §4.C, §4.D.2). Grounded on FindBin in the
// teacher's internal/pkg/util/bin, trimmed of the apptainer.conf-driven
// build-time override path since Northstar has no equivalent
// binary-path config section; every name here is looked up on PATH.
package bin

import (
	"fmt"
	"os/exec"
)

// FindBin returns the absolute path to the named external tool used by the
// mount engine (dm-verity setup) or the debug attach helper, or an error if
// it is not on PATH.
func FindBin(name string) (string, error) {
	switch name {
	case "veritysetup", "dmsetup", "strace", "perf":
		return exec.LookPath(name)
	}
	return "", fmt.Errorf("unknown executable name %q", name)
}

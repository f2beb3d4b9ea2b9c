// Package namespaces inspects the calling process's user-namespace
// standing, used by internal/pkg/launcher to decide whether a container
// can map its requested uid/gid at all (spec.md §4.D.2's identity mapping
// only makes sense relative to whatever namespace northstard itself
// already lives in).
package namespaces

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ccoveille/go-safecast"
)

// IsInsideUserNamespace reports whether pid is already running in a
// non-initial user namespace, and whether that namespace permits
// setgroups. The launcher does not call it: os/exec writes the child's
// setgroups file itself during cmd.Start().
func IsInsideUserNamespace(pid int) (insideUserNs, setgroupsAllowed bool) {
	r, err := os.Open(fmt.Sprintf("/proc/%d/uid_map", pid))
	if err != nil {
		return false, false
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false, false
	}

	fields := strings.Fields(scanner.Text())
	size, _ := strconv.ParseUint(fields[2], 10, 32)
	if uint32(size) == ^uint32(0) {
		// full-range mapping: this is the host's own (initial) user namespace.
		return false, false
	}

	insideUserNs = true
	d, err := os.ReadFile(fmt.Sprintf("/proc/%d/setgroups", pid))
	if err != nil {
		return insideUserNs, false
	}
	setgroupsAllowed = string(d) == "allow\n"
	return insideUserNs, setgroupsAllowed
}

// HostUID resolves the daemon process's uid in the host's initial user
// namespace, falling back to the current uid when northstard itself is
// not nested inside another user namespace.
func HostUID() (uint32, error) {
	uid, err := safecast.ToUint32(os.Getuid())
	if err != nil {
		return 0, fmt.Errorf("failed to convert uid to uint32: %s", err)
	}
	return getHostID("uid", uid)
}

// HostGID is HostUID's gid counterpart.
func HostGID() (uint32, error) {
	gid, err := safecast.ToUint32(os.Getgid())
	if err != nil {
		return 0, fmt.Errorf("failed to convert gid to uint32: %s", err)
	}
	return getHostID("gid", gid)
}

func getHostID(typ string, currentID uint32) (uint32, error) {
	if currentID != 0 {
		return currentID, nil
	}

	idMap := fmt.Sprintf("/proc/self/%s_map", typ)

	f, err := os.Open(idMap)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to read: %s: %s", idMap, err)
		}
		return currentID, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())

		size, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("failed to convert size field %s: %s", fields[2], err)
		}
		if uint32(size) == ^uint32(0) {
			break
		}

		containerID, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("failed to convert container %s field %s: %s", typ, fields[0], err)
		}
		if size == 1 && currentID == uint32(containerID) {
			hostID, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return 0, fmt.Errorf("failed to convert host %v field %s: %s", typ, fields[1], err)
			}
			return uint32(hostID), nil
		}
	}

	return currentID, nil
}

// IsUnprivileged reports whether northstard itself is running without
// real root in the host's initial user namespace — including the "root
// inside an unprivileged user namespace" case. The launcher refuses to
// start a container when this reports true, since its full-range identity
// mapping needs real root; there is no rootless fallback.
func IsUnprivileged() bool {
	if os.Geteuid() != 0 {
		return true
	}
	uid, err := HostUID()
	if err != nil {
		return true
	}
	return uid != 0
}

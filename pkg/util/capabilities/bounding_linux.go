package capabilities

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FromNames resolves a manifest capabilities list to a bitmask, the shape
// GetProcessEffective/SetProcessEffective in process_linux.go already
// operate on.
func FromNames(names []string) (uint64, error) {
	var mask uint64
	for _, name := range names {
		c, ok := Map[name]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", name)
		}
		mask |= 1 << c.Value
	}
	return mask, nil
}

// DropBoundingExcept removes every capability not present in keep from the
// calling thread's bounding set via repeated PR_CAPBSET_DROP (spec.md
// §4.D.5.f: "Drop all capabilities not listed").
func DropBoundingExcept(keep uint64) error {
	for _, c := range Map {
		if keep&(1<<c.Value) != 0 {
			continue
		}
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(c.Value), 0, 0, 0); err != nil {
			if err == unix.EINVAL {
				continue // kernel doesn't know this capability number
			}
			return fmt.Errorf("PR_CAPBSET_DROP %s: %w", c.Name, err)
		}
	}
	return nil
}

// SetAmbient clears the ambient set and raises exactly the bits in keep.
// internal/pkg/launcher's init stage calls it after setuid(2), so the
// listed capabilities survive the execve(2) that follows for a non-root
// uid.
func SetAmbient(keep uint64) error {
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_CAP_AMBIENT_CLEAR_ALL: %w", err)
	}
	for _, c := range Map {
		if keep&(1<<c.Value) == 0 {
			continue
		}
		if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_RAISE, uintptr(c.Value), 0, 0); err != nil {
			return fmt.Errorf("PR_CAP_AMBIENT_RAISE %s: %w", c.Name, err)
		}
	}
	return nil
}

// SetProcessFull sets the effective, permitted and inheritable sets in one
// call, unlike SetProcessEffective in process_linux.go which only touches
// the effective set; the launcher's capability-drop step narrows all three
// together after setuid.
func SetProcessFull(effective, permitted, inheritable uint64) error {
	var data [2]unix.CapUserData
	header := capHeader()

	data[0].Effective = uint32(effective)
	data[1].Effective = uint32(effective >> 32)
	data[0].Permitted = uint32(permitted)
	data[1].Permitted = uint32(permitted >> 32)
	data[0].Inheritable = uint32(inheritable)
	data[1].Inheritable = uint32(inheritable >> 32)

	if err := unix.Capset(&header, &data[0]); err != nil {
		return fmt.Errorf("while setting process capability sets: %s", err)
	}
	return nil
}

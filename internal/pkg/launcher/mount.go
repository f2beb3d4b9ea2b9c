package launcher

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// pivotRoot switches the calling process's root to newRoot using the
// self-pivot idiom lifted from the engine's rpc server (Chroot's "pivot"
// case): chdir into newRoot first, so pivot_root(".", ".") stacks newRoot
// on top of the old root at the same path, then Fchdir to a held
// reference to the old root to step off that stack, then unmount the old
// root lazily. No temporary directory is created anywhere (spec.md
// §4.D.5.d).
func pivotRoot(newRoot string) error {
	oldroot, err := os.Open("/")
	if err != nil {
		return fmt.Errorf("opening host root: %w", err)
	}
	defer oldroot.Close()

	if err := unix.Chdir(newRoot); err != nil {
		return fmt.Errorf("chdir to new root: %w", err)
	}
	if err := unix.PivotRoot(".", "."); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := unix.Fchdir(int(oldroot.Fd())); err != nil {
		return fmt.Errorf("fchdir to old root: %w", err)
	}
	if err := unix.Mount("", ".", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("applying slave propagation to old root: %w", err)
	}
	if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmounting old root: %w", err)
	}
	return unix.Chdir("/")
}

// applyMounts creates each manifest mount's target directory inside the
// new root (owned by the container's uid:gid, spec.md §4.D.5.b) and
// applies it. Bind-like mounts (everything but tmpfs) go through a
// bind-then-remount-with-flags pair, since MS_RDONLY and friends are
// silently ignored by the kernel on the initial bind mount call.
func applyMounts(root string, mounts []mountPlanEntry, uid, gid int) error {
	for _, m := range mounts {
		target := filepath.Join(root, m.Target)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mount %q: creating target: %w", m.Target, err)
		}
		if err := os.Chown(target, uid, gid); err != nil {
			return fmt.Errorf("mount %q: chowning target: %w", m.Target, err)
		}

		switch m.Kind {
		case "tmpfs":
			opts := fmt.Sprintf("size=%d", m.SizeBytes)
			if err := unix.Mount("tmpfs", target, "tmpfs", 0, opts); err != nil {
				return fmt.Errorf("mount %q: mounting tmpfs: %w", m.Target, err)
			}
		case "bind":
			flags := uintptr(unix.MS_BIND)
			if m.Recursive {
				flags |= unix.MS_REC
			}
			if err := unix.Mount(m.Source, target, "", flags, ""); err != nil {
				return fmt.Errorf("mount %q: binding %s: %w", m.Target, m.Source, err)
			}
			// Spec.md §4.D.5.b: bind mounts always carry
			// MS_NOSUID|MS_NODEV|MS_NOEXEC regardless of manifest options;
			// only MS_RDONLY is conditional on the "rw" bind option.
			remountFlags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
			if m.ReadOnly {
				remountFlags |= unix.MS_RDONLY
			}
			if m.Recursive {
				remountFlags |= unix.MS_REC
			}
			if err := unix.Mount("", target, "", remountFlags, ""); err != nil {
				return fmt.Errorf("mount %q: remounting with flags: %w", m.Target, err)
			}
		default:
			return fmt.Errorf("mount %q: unknown plan kind %q", m.Target, m.Kind)
		}
	}
	return nil
}

package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

// Handle is the released-on-teardown resource set for one mounted
// container (spec.md §9: "Each mounted container is modeled as a handle
// that, when released, performs umount → dm-remove → loop-detach in
// order"). Release order inside Umount matches that note exactly.
type Handle struct {
	Container container.Container
	Root      string // <run_dir>/<name>:<version>/root
	Loop      *LoopDevice
	Verity    *VerityDevice
}

// Options carries the timeouts and directories the engine needs that come
// from the runtime config (spec.md §6).
type Options struct {
	RunDir                    string
	DataDir                   string
	DeviceMapperDeviceTimeout time.Duration
}

// Mount runs the step sequence of spec.md §4.C, unwinding whatever
// succeeded so far on any failure.
func Mount(ctx context.Context, backing *os.File, pkg *npk.Package, c container.Container, opts Options) (handle *Handle, err error) {
	loop, err := AttachLoop(backing, pkg.ImageOffset, pkg.ImageLength)
	if err != nil {
		return nil, fmt.Errorf("attaching loop device: %w", err)
	}
	defer func() {
		if err != nil {
			loop.Detach()
		}
	}()

	rootHash, salt, err := verityParams(pkg)
	if err != nil {
		return nil, err
	}

	dataBlocks := pkg.ImageLength / VerityBlockSizeHint
	verity, err := CreateVerityDevice(loop, c, rootHash, salt, dataBlocks)
	if err != nil {
		return nil, fmt.Errorf("creating dm-verity device: %w", err)
	}
	defer func() {
		if err != nil {
			verity.Remove()
		}
	}()

	timeout := opts.DeviceMapperDeviceTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if err = WaitForDevice(ctx, verity.Path, timeout); err != nil {
		return nil, err
	}

	root := filepath.Join(opts.RunDir, c.String(), "root")
	if err = os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating mount point %s: %w", root, err)
	}
	defer func() {
		if err != nil {
			os.Remove(root)
		}
	}()

	if err = unix.Mount(verity.Path, root, "squashfs", unix.MS_RDONLY, ""); err != nil {
		return nil, fmt.Errorf("mounting %s at %s: %w", verity.Path, root, err)
	}

	if hasPersistMount(pkg.Manifest) {
		dataDir := filepath.Join(opts.DataDir, c.Name())
		if err = os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating persist dir %s: %w", dataDir, err)
		}
		if err = os.Chown(dataDir, int(pkg.Manifest.UID), int(pkg.Manifest.GID)); err != nil {
			return nil, fmt.Errorf("chown persist dir %s: %w", dataDir, err)
		}
	}

	return &Handle{Container: c, Root: root, Loop: loop, Verity: verity}, nil
}

func hasPersistMount(m *npk.Manifest) bool {
	for _, mnt := range m.Mounts {
		if mnt.Type == npk.MountPersist {
			return true
		}
	}
	return false
}

func verityParams(pkg *npk.Package) (rootHash, salt []byte, err error) {
	if pkg.Signature == nil {
		return nil, nil, fmt.Errorf("package has no signature, cannot derive verity parameters")
	}
	rootHash, err = pkg.Signature.VerityRootHash()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding verity root hash: %w", err)
	}
	salt, err = pkg.Signature.VerityRootSalt()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding verity salt: %w", err)
	}
	return rootHash, salt, nil
}

// Umount reverses Mount strictly: unmount → remove dm-verity target →
// detach loop device → delete the mount point directory (spec.md §4.C).
// Every step tolerates ENOENT but surfaces other errors.
func Umount(h *Handle) error {
	if err := unix.Unmount(h.Root, 0); err != nil && err != unix.ENOENT && err != unix.EINVAL {
		return fmt.Errorf("unmounting %s: %w", h.Root, err)
	}
	if err := h.Verity.Remove(); err != nil {
		return err
	}
	if err := h.Loop.Detach(); err != nil {
		return err
	}
	if err := os.Remove(h.Root); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing mount point %s: %w", h.Root, err)
	}
	return nil
}

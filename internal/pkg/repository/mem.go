package repository

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

// MemRepository holds packages as sealed memfds instead of disk files
// (spec.md §3/§4.B). It is grounded on MemRepository in
// original_source/northstar-runtime/src/runtime/repository.rs: the
// memfd::MemfdOptions{allow_sealing}/add_seals(Grow,Shrink,Write)+SealSeal
// sequence there becomes unix.MemfdCreate(MFD_ALLOW_SEALING) followed by an
// F_ADD_SEALS fcntl here.
type MemRepository struct {
	key ed25519.PublicKey

	mu      sync.Mutex
	entries map[container.Container]*Entry
}

func NewMemRepository(key ed25519.PublicKey) *MemRepository {
	return &MemRepository{key: key, entries: make(map[container.Container]*Entry)}
}

func (r *MemRepository) Insert(stream io.Reader) (container.Container, error) {
	fd, err := unix.MemfdCreate(uuid.NewString(), unix.MFD_ALLOW_SEALING)
	if err != nil {
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("creating memfd: %w", err))
	}
	f := os.NewFile(uintptr(fd), "npk-memfd")

	n, err := io.Copy(f, stream)
	if err != nil {
		f.Close()
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("writing memfd: %w", err))
	}
	if err := unix.Ftruncate(fd, n); err != nil {
		f.Close()
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("truncating memfd: %w", err))
	}

	const seals = unix.F_SEAL_GROW | unix.F_SEAL_SHRINK | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		f.Close()
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("sealing memfd: %w", err))
	}

	pkg, err := npk.Open(f, n)
	if err != nil {
		f.Close()
		return container.Container{}, northstarerr.Configuration(err.Error())
	}
	if err := pkg.Verify(r.key); err != nil {
		f.Close()
		return container.Container{}, northstarerr.Configuration(err.Error())
	}
	c, err := pkg.Manifest.Container()
	if err != nil {
		f.Close()
		return container.Container{}, northstarerr.Configuration(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[c]; exists {
		f.Close()
		return container.Container{}, northstarerr.InstallDuplicate(c.String())
	}
	r.entries[c] = &Entry{Package: pkg, File: f}
	return c, nil
}

func (r *MemRepository) Remove(c container.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	e.File.Close()
	delete(r.entries, c)
	return nil
}

func (r *MemRepository) Get(c container.Container) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[c]
}

func (r *MemRepository) List() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *MemRepository) Key() ed25519.PublicKey { return r.key }

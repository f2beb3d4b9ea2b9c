package repository

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

// FSRepository is a directory of NPK files named "name-version.npk" (spec.md
// §3/§4.B). It is grounded on DirRepository in
// original_source/northstar-runtime/src/runtime/repository.rs; the parallel
// startup scan there uses futures::try_join_all over spawn_blocking tasks,
// which here is golang.org/x/sync/errgroup over goroutines — the same
// "I/O-bound and trivially parallel per file" shape the teacher reaches for
// errgroup in its own build pipelines.
type FSRepository struct {
	dir string
	key ed25519.PublicKey

	mu      sync.Mutex
	entries map[container.Container]*Entry
}

// NewFSRepository scans dir in parallel and loads every NPK found. A
// corrupt package is skipped, not fatal (spec.md §4.B "Failure
// semantics"); it is not logged, and the caller is not told about it.
func NewFSRepository(dir string, key ed25519.PublicKey) (*FSRepository, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading repository dir %s: %w", dir, err)
	}

	type loaded struct {
		container container.Container
		entry     *Entry
	}
	results := make([]*loaded, len(dirents))

	var g errgroup.Group
	for i, de := range dirents {
		i, de := i, de
		if de.IsDir() {
			continue
		}
		g.Go(func() error {
			path := filepath.Join(dir, de.Name())
			f, err := os.Open(path)
			if err != nil {
				return nil // skip unreadable entries, not fatal
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil
			}
			pkg, err := npk.Open(f, info.Size())
			if err != nil {
				f.Close()
				return nil
			}
			if err := pkg.Verify(key); err != nil {
				f.Close()
				return nil
			}
			c, err := pkg.Manifest.Container()
			if err != nil {
				f.Close()
				return nil
			}
			results[i] = &loaded{container: c, entry: &Entry{Package: pkg, File: f, Path: path}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make(map[container.Container]*Entry, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		entries[r.container] = r.entry
	}

	return &FSRepository{dir: dir, key: key, entries: entries}, nil
}

func (r *FSRepository) Insert(stream io.Reader) (container.Container, error) {
	staged := filepath.Join(r.dir, uuid.NewString()+".npk")
	f, err := os.Create(staged)
	if err != nil {
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("staging NPK: %w", err))
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("writing staged NPK: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Unexpected(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Unexpected(err)
	}
	pkg, err := npk.Open(f, info.Size())
	if err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Configuration(err.Error())
	}
	if err := pkg.Verify(r.key); err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Configuration(err.Error())
	}
	c, err := pkg.Manifest.Container()
	if err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Configuration(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[c]; exists {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.InstallDuplicate(c.String())
	}

	committed := filepath.Join(r.dir, c.FileStem()+".npk")
	if err := os.Rename(staged, committed); err != nil {
		f.Close()
		os.Remove(staged)
		return container.Container{}, northstarerr.Unexpected(fmt.Errorf("committing NPK: %w", err))
	}
	r.entries[c] = &Entry{Package: pkg, File: f, Path: committed}
	return c, nil
}

func (r *FSRepository) Remove(c container.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	e.File.Close()
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return northstarerr.Unexpected(err)
	}
	delete(r.entries, c)
	return nil
}

func (r *FSRepository) Get(c container.Container) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[c]
}

func (r *FSRepository) List() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *FSRepository) Key() ed25519.PublicKey { return r.key }

// Package repository implements the NPK repository (spec.md §4.B): the set
// of installed packages, directory-backed or memfd-backed, behind one
// shared contract. It is grounded on
// original_source/northstar-runtime/src/runtime/repository.rs, adapted from
// async Rust to synchronous Go with explicit locking, since the runtime's
// single event-loop thread already serializes access to each repository.
package repository

import (
	"crypto/ed25519"
	"io"
	"os"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

// Entry couples an opened package with the backing file the mount engine
// loop-attaches (spec.md §4.A: "mounted by pointing a loop device at the
// NPK file with offset"). File is the on-disk NPK for a directory
// repository, or the sealed memfd for a memory repository; both satisfy
// the same loop-device-by-fd contract.
type Entry struct {
	Package *npk.Package
	File    *os.File
	Path    string // on-disk path; empty for memfd-backed entries
}

// Repository owns a set of installed packages, either backed by files in a
// directory or by sealed memfds (spec.md §4.B: "Two variants share one
// contract").
type Repository interface {
	// Insert consumes r fully, materializes it as a staged NPK, parses and
	// verifies it, then commits it under its declared identity. A conflict
	// with an existing identity is an error and the staged artifact is
	// removed.
	Insert(r io.Reader) (container.Container, error)

	// Remove drops the stored artifact. The caller must have already
	// unmounted the container.
	Remove(c container.Container) error

	// Get returns the entry for c, or nil if unknown.
	Get(c container.Container) *Entry

	// List returns every installed entry.
	List() []*Entry

	// Key returns the repository's trust key, or nil if unkeyed.
	Key() ed25519.PublicKey
}

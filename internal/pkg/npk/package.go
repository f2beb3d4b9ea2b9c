// Package npk implements the NPK package codec (spec.md §4.A): manifest
// parsing and validation, signature verification, and location of the
// squashfs byte range inside the package stream. It is grounded on the
// original Rust manifest (original_source/northstar-runtime/src/npk/manifest)
// and, for the YAML decode/validate idiom, on the teacher's own habit of
// decoding declarative config with gopkg.in/yaml.v2 throughout
// internal/pkg/build.
package npk

import (
	"archive/zip"
	"crypto/ed25519"
	"fmt"
	"io"
)

const (
	entryManifest  = "manifest.yaml"
	entrySignature = "signature.yaml"
	entryImage     = "fs.img"
)

// Package is an opened NPK: the parsed, validated manifest, the signature
// record (if present), and the byte range of the squashfs image inside the
// backing source, so the mount engine can loop-attach it by offset instead
// of copying (spec.md §4.A/§4.C).
type Package struct {
	Manifest      *Manifest
	Signature     *Signature
	ManifestBytes []byte

	// ImageOffset/ImageLength locate fs.img inside the backing source; the
	// entry must be stored (not deflated) for this to point at real
	// squashfs bytes, which Pack guarantees and Open verifies.
	ImageOffset int64
	ImageLength int64
}

// sizerReaderAt is the minimal capability Open needs from its backing
// source: random access (an *os.File or a sealed memfd both satisfy this
// via os.File). The total size is passed to Open separately.
type sizerReaderAt interface {
	io.ReaderAt
}

// Open reads the fixed three-entry NPK stream, parses and validates the
// manifest, decodes the signature record if present, and locates the
// squashfs payload's byte range. It does not verify the signature; call
// Verify for that once a trust key is known (spec.md §4.A: "verification
// fails with Configuration if either is tampered... When no key is
// configured, verification is skipped").
func Open(r sizerReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening NPK: %w", err)
	}

	var manifestEntry, sigEntry, imageEntry *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case entryManifest:
			manifestEntry = f
		case entrySignature:
			sigEntry = f
		case entryImage:
			imageEntry = f
		}
	}
	if manifestEntry == nil {
		return nil, fmt.Errorf("NPK missing %s", entryManifest)
	}
	if imageEntry == nil {
		return nil, fmt.Errorf("NPK missing %s", entryImage)
	}

	manifestBytes, err := readZipEntry(manifestEntry)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, err
	}

	var sig *Signature
	if sigEntry != nil {
		sigBytes, err := readZipEntry(sigEntry)
		if err != nil {
			return nil, fmt.Errorf("reading signature: %w", err)
		}
		sig, err = ParseSignature(sigBytes)
		if err != nil {
			return nil, err
		}
	}

	if imageEntry.Method != zip.Store {
		return nil, fmt.Errorf("%s must be stored uncompressed for loop-mount by offset", entryImage)
	}
	offset, err := imageEntry.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("locating %s payload: %w", entryImage, err)
	}

	return &Package{
		Manifest:      manifest,
		Signature:     sig,
		ManifestBytes: manifestBytes,
		ImageOffset:   offset,
		ImageLength:   int64(imageEntry.UncompressedSize64),
	}, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Verify checks the package's signature against pub, covering the manifest
// bytes and fs-verity root hash exactly as they were sealed at pack time.
// When pub is nil nothing is checked, matching an unkeyed repository's
// "accepted as-is" contract (spec.md §4.B); when pub is set, a Package
// with no Signature is rejected with an error.
func (p *Package) Verify(pub ed25519.PublicKey) error {
	if pub == nil {
		return nil
	}
	if p.Signature == nil {
		return fmt.Errorf("package has no signature")
	}
	return p.Signature.Verify(pub, p.ManifestBytes)
}

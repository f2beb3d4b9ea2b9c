package npk

import (
	"archive/zip"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// Pack writes a manifest and a pre-built squashfs image to dest as an NPK:
// manifest.yaml, signature.yaml, fs.img, in that fixed order, with fs.img
// stored uncompressed so it can later be loop-mounted by offset (spec.md
// §4.A: "pack(dir, dest, key): build-time helper"). signature.yaml always
// carries the verity root hash and salt the mount engine needs; if priv is
// nil its signature field is left empty and the package is usable only
// from an unkeyed repository.
func Pack(dest string, manifest *Manifest, image io.Reader, priv ed25519.PrivateKey, keyID string) error {
	manifestBytes, err := manifest.Serialize()
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating NPK: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	mw, err := zw.CreateHeader(&zip.FileHeader{Name: entryManifest, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("writing manifest entry: %w", err)
	}
	if _, err := mw.Write(manifestBytes); err != nil {
		return fmt.Errorf("writing manifest entry: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating verity salt: %w", err)
	}

	imgBuf, err := io.ReadAll(image)
	if err != nil {
		return fmt.Errorf("reading squashfs image: %w", err)
	}
	rootHash, err := ComputeVerityRootHash(bytes.NewReader(imgBuf), salt)
	if err != nil {
		return fmt.Errorf("computing verity root hash: %w", err)
	}

	sig := &Signature{
		KeyID:      keyID,
		VerityHash: hex.EncodeToString(rootHash),
		VeritySalt: hex.EncodeToString(salt),
	}
	if priv != nil {
		sig.Signature = Sign(priv, manifestBytes, rootHash)
	}
	sigBytes, err := yaml.Marshal(sig)
	if err != nil {
		return fmt.Errorf("serializing signature: %w", err)
	}
	sw, err := zw.CreateHeader(&zip.FileHeader{Name: entrySignature, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("writing signature entry: %w", err)
	}
	if _, err := sw.Write(sigBytes); err != nil {
		return fmt.Errorf("writing signature entry: %w", err)
	}

	iw, err := zw.CreateHeader(&zip.FileHeader{Name: entryImage, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("writing image entry: %w", err)
	}
	if _, err := iw.Write(imgBuf); err != nil {
		return fmt.Errorf("writing image entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing NPK: %w", err)
	}
	return nil
}

// Unpack extracts an opened package's manifest.yaml, signature.yaml (if
// present) and fs.img into dir, the inverse of Pack, used by build-time
// tooling to round-trip a package (spec.md §4.A).
func Unpack(p *Package, src io.ReaderAt, dir string) error {
	manifestBytes, err := p.Manifest.Serialize()
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}
	if err := os.WriteFile(dir+"/manifest.yaml", manifestBytes, 0o644); err != nil {
		return fmt.Errorf("writing manifest.yaml: %w", err)
	}

	if p.Signature != nil {
		sigBytes, err := yaml.Marshal(p.Signature)
		if err != nil {
			return fmt.Errorf("serializing signature: %w", err)
		}
		if err := os.WriteFile(dir+"/signature.yaml", sigBytes, 0o644); err != nil {
			return fmt.Errorf("writing signature.yaml: %w", err)
		}
	}

	img := make([]byte, p.ImageLength)
	if _, err := src.ReadAt(img, p.ImageOffset); err != nil {
		return fmt.Errorf("reading fs.img payload: %w", err)
	}
	if err := os.WriteFile(dir+"/fs.img", img, 0o644); err != nil {
		return fmt.Errorf("writing fs.img: %w", err)
	}
	return nil
}

package npk

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// VerityBlockSize is the fixed fs-verity Merkle tree block size (spec.md
// §3: "fs-verity-hashed squashfs").
const VerityBlockSize = 4096

// ComputeVerityRootHash builds a salted SHA-256 Merkle tree over r's
// content and returns the root hash. Each leaf hashes one VerityBlockSize
// block (zero-padded if short) prefixed by salt; each higher level packs
// the digests below it into zero-padded VerityBlockSize pages and hashes
// each page, also salt-prefixed, level by level until one digest remains. This mirrors the Linux fs-verity construction
// closely enough to give dm-verity a matching root hash when the same
// salt and block size are used at mount time.
//
// No ecosystem package in the retrieved dependency pack implements
// fs-verity tree hashing, so this is hand-rolled on top of crypto/sha256;
// see DESIGN.md.
func ComputeVerityRootHash(r io.Reader, salt []byte) ([]byte, error) {
	var level [][]byte
	buf := make([]byte, VerityBlockSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := buf
			if n < VerityBlockSize {
				block = make([]byte, VerityBlockSize)
				copy(block, buf[:n])
			}
			level = append(level, hashBlock(salt, block))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading verity source: %w", err)
		}
	}
	if len(level) == 0 {
		level = append(level, hashBlock(salt, make([]byte, VerityBlockSize)))
	}

	for len(level) > 1 {
		level = foldLevel(salt, level)
	}
	return level[0], nil
}

func hashBlock(salt, block []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(block)
	return h.Sum(nil)
}

// foldLevel groups digests into VerityBlockSize-sized pages (zero-padded)
// and hashes each page into the next level up, same as a real fs-verity
// tree level transition.
func foldLevel(salt []byte, digests [][]byte) [][]byte {
	const digestSize = sha256.Size
	perPage := VerityBlockSize / digestSize

	var next [][]byte
	for i := 0; i < len(digests); i += perPage {
		end := i + perPage
		if end > len(digests) {
			end = len(digests)
		}
		page := make([]byte, VerityBlockSize)
		offset := 0
		for _, d := range digests[i:end] {
			copy(page[offset:], d)
			offset += digestSize
		}
		next = append(next, hashBlock(salt, page))
	}
	return next
}

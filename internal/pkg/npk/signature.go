package npk

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v2"
)

// Signature is the detached signature carried in signature.yaml: an Ed25519
// signature over manifest-bytes || verity-root-hash, plus the fs-verity
// parameters needed to reconstruct that root hash independently (spec.md
// §3/§4.A).
type Signature struct {
	KeyID      string `yaml:"key_id"`
	VerityHash string `yaml:"verity_hash"`
	VeritySalt string `yaml:"verity_salt"`
	Signature  string `yaml:"signature"`
}

// ParseSignature decodes signature.yaml bytes.
func ParseSignature(data []byte) (*Signature, error) {
	var s Signature
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing signature: %w", err)
	}
	return &s, nil
}

// VerityRootHash decodes the hex-encoded root hash.
func (s *Signature) VerityRootHash() ([]byte, error) {
	return hex.DecodeString(s.VerityHash)
}

// VerityRootSalt decodes the hex-encoded salt.
func (s *Signature) VerityRootSalt() ([]byte, error) {
	return hex.DecodeString(s.VeritySalt)
}

// Verify checks the Ed25519 signature over manifestBytes || verityRootHash
// against the given public key (spec.md §4.A: "the signature covers the
// concatenation of the manifest bytes and the fs-verity root hash").
func (s *Signature) Verify(pub ed25519.PublicKey, manifestBytes []byte) error {
	rootHash, err := s.VerityRootHash()
	if err != nil {
		return fmt.Errorf("decoding verity hash: %w", err)
	}
	sig, err := hex.DecodeString(s.Signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}

	message := make([]byte, 0, len(manifestBytes)+len(rootHash))
	message = append(message, manifestBytes...)
	message = append(message, rootHash...)

	if !ed25519.Verify(pub, message, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// Sign produces the hex signature string over manifestBytes || rootHash,
// the counterpart operation Pack uses to author signature.yaml.
func Sign(priv ed25519.PrivateKey, manifestBytes, rootHash []byte) string {
	message := make([]byte, 0, len(manifestBytes)+len(rootHash))
	message = append(message, manifestBytes...)
	message = append(message, rootHash...)
	return hex.EncodeToString(ed25519.Sign(priv, message))
}

package npk

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	data := []byte(`
name: hello
version: 0.0.1
init: /binary
args: [one, two]
env:
  LD_LIBRARY_PATH: /lib
uid: 1000
gid: 1000
mounts:
  /dev:
    type: dev
  /tmp:
    type: tmpfs
    size: 42kB
  /lib:
    type: bind
    host: /lib
    options: [rw]
  /data:
    type: persist
seccomp:
  allow:
    fork: any
`)
	m, err := ParseManifest(data)
	require.NoError(t, err)
	return m
}

func TestParseManifestValid(t *testing.T) {
	m := testManifest(t)
	assert.Equal(t, "hello", m.Name)
	assert.Len(t, m.Mounts, 4)
	assert.Equal(t, uint64(42_000), m.Mounts["/tmp"].SizeBytes())
	assert.False(t, m.IsResource())
}

func TestValidateRejectsOverlappingMounts(t *testing.T) {
	base := `
name: hello
version: 0.0.1
uid: 1000
gid: 1000
mounts:
  /lib:
    type: dev
  /lib/sub:
    type: dev
`
	_, err := ParseManifest([]byte(base))
	assert.Error(t, err)
}

func TestValidateAllowsDistinctPrefixMounts(t *testing.T) {
	base := `
name: hello
version: 0.0.1
uid: 1000
gid: 1000
mounts:
  /lib:
    type: dev
  /library:
    type: dev
`
	_, err := ParseManifest([]byte(base))
	assert.NoError(t, err)
}

func TestValidateRejectsRootUID(t *testing.T) {
	base := `
name: hello
version: 0.0.1
init: /binary
uid: 0
gid: 1000
`
	_, err := ParseManifest([]byte(base))
	assert.Error(t, err)
}

func TestValidateRejectsReservedEnvKey(t *testing.T) {
	base := `
name: hello
version: 0.0.1
uid: 1000
gid: 1000
env:
  NORTHSTAR_NAME: x
`
	_, err := ParseManifest([]byte(base))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	base := `
name: hello
name: hello2
version: 0.0.1
uid: 1000
gid: 1000
`
	_, err := ParseManifest([]byte(base))
	assert.Error(t, err)
}

func TestPackOpenVerifyRoundTrip(t *testing.T) {
	m := testManifest(t)
	image := bytes.Repeat([]byte{0xAB}, 8192)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "hello-0.0.1.npk")
	require.NoError(t, Pack(dest, m, bytes.NewReader(image), priv, "key-1"))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	pkg, err := Open(f, info.Size())
	require.NoError(t, err)
	assert.Equal(t, "hello", pkg.Manifest.Name)
	assert.Equal(t, int64(len(image)), pkg.ImageLength)

	require.NoError(t, pkg.Verify(pub))

	got := make([]byte, pkg.ImageLength)
	_, err = f.ReadAt(got, pkg.ImageOffset)
	require.NoError(t, err)
	assert.Equal(t, image, got)
}

func TestVerifyFailsOnTamperedManifest(t *testing.T) {
	m := testManifest(t)
	image := bytes.Repeat([]byte{0xCD}, 4096)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "hello-0.0.1.npk")
	require.NoError(t, Pack(dest, m, bytes.NewReader(image), priv, "key-1"))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	pkg, err := Open(f, info.Size())
	require.NoError(t, err)

	pkg.ManifestBytes = append(pkg.ManifestBytes, '\n')
	assert.Error(t, pkg.Verify(pub))
}

func TestComputeVerityRootHashDeterministic(t *testing.T) {
	salt := []byte("salt")
	a, err := ComputeVerityRootHash(bytes.NewReader(bytes.Repeat([]byte{1}, 10000)), salt)
	require.NoError(t, err)
	b, err := ComputeVerityRootHash(bytes.NewReader(bytes.Repeat([]byte{1}, 10000)), salt)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ComputeVerityRootHash(bytes.NewReader(bytes.Repeat([]byte{2}, 10000)), salt)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

func TestHasPersistMount(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/data": {Type: npk.MountPersist},
		"/dev":  {Type: npk.MountDev},
	}}
	assert.True(t, hasPersistMount(m))

	m2 := &npk.Manifest{Mounts: map[string]npk.Mount{"/dev": {Type: npk.MountDev}}}
	assert.False(t, hasPersistMount(m2))
}

func TestVerityParamsRequiresSignature(t *testing.T) {
	pkg := &npk.Package{}
	_, _, err := verityParams(pkg)
	assert.Error(t, err)
}

func TestVerityParamsDecodesHexFields(t *testing.T) {
	pkg := &npk.Package{Signature: &npk.Signature{
		VerityHash: "aa",
		VeritySalt: "bb",
	}}
	root, salt, err := verityParams(pkg)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, root)
	assert.Equal(t, []byte{0xbb}, salt)
}

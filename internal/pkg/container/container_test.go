package container

import (
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	v, err := semver.Parse("0.0.1")
	require.NoError(t, err)
	c, err := New("test", v)
	require.NoError(t, err)

	parsed, err := Parse("test:0.0.1")
	require.NoError(t, err)
	assert.Equal(t, c, parsed)
	assert.Equal(t, "test:0.0.1", parsed.String())
	assert.Equal(t, "test-0.0.1", parsed.FileStem())
}

func TestParseInvalidName(t *testing.T) {
	_, err := Parse("test\x00:0.0.1")
	assert.Error(t, err)

	_, err = Parse("tes%t:0.0.1")
	assert.Error(t, err)
}

func TestParseMissingVersion(t *testing.T) {
	_, err := Parse("test")
	assert.Error(t, err)
}

func TestValidateNameLength(t *testing.T) {
	long := make([]byte, 1025)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateName(string(long)))
}

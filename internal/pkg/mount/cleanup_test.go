package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStemMatchesFileStemShape(t *testing.T) {
	assert.Equal(t, "hello-0.0.1", dirStem("hello:0.0.1"))
}

func TestCleanupNoOpOnMissingRunDir(t *testing.T) {
	err := Cleanup(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
}

func TestCleanupRemovesUnmountedEmptyRoot(t *testing.T) {
	runDir := t.TempDir()
	root := filepath.Join(runDir, "hello:0.0.1", "root")
	require.NoError(t, os.MkdirAll(root, 0o755))

	err := Cleanup(runDir)
	require.NoError(t, err)

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

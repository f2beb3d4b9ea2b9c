package repository

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

func packTestNPK(t *testing.T, dir, name, version string) string {
	t.Helper()
	m, err := npk.ParseManifest([]byte("name: " + name + "\nversion: " + version + "\nuid: 1000\ngid: 1000\n"))
	require.NoError(t, err)
	dest := filepath.Join(dir, name+"-"+version+".npk")
	require.NoError(t, npk.Pack(dest, m, bytes.NewReader([]byte("squashfs-bytes")), nil, ""))
	return dest
}

func TestFSRepositoryScanAndInsert(t *testing.T) {
	dir := t.TempDir()
	packTestNPK(t, dir, "hello", "0.0.1")

	repo, err := NewFSRepository(dir, nil)
	require.NoError(t, err)
	assert.Len(t, repo.List(), 1)

	insertDir := t.TempDir()
	insertPath := packTestNPK(t, insertDir, "world", "1.0.0")
	f, err := os.Open(insertPath)
	require.NoError(t, err)
	defer f.Close()

	c, err := repo.Insert(f)
	require.NoError(t, err)
	assert.Equal(t, "world", c.Name())
	assert.Len(t, repo.List(), 2)

	entry := repo.Get(c)
	require.NotNil(t, entry)
	assert.FileExists(t, entry.Path)
}

func TestFSRepositoryInsertDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFSRepository(dir, nil)
	require.NoError(t, err)

	srcDir := t.TempDir()
	path := packTestNPK(t, srcDir, "hello", "0.0.1")

	f1, err := os.Open(path)
	require.NoError(t, err)
	_, err = repo.Insert(f1)
	f1.Close()
	require.NoError(t, err)

	f2, err := os.Open(path)
	require.NoError(t, err)
	defer f2.Close()
	_, err = repo.Insert(f2)
	require.Error(t, err)

	nsErr, ok := northstarerr.As(err)
	require.True(t, ok)
	assert.Equal(t, northstarerr.KindInstallDuplicate, nsErr.Kind)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // staged duplicate was removed
}

func TestFSRepositoryRemove(t *testing.T) {
	dir := t.TempDir()
	path := packTestNPK(t, dir, "hello", "0.0.1")
	repo, err := NewFSRepository(dir, nil)
	require.NoError(t, err)

	c := repo.List()[0].Package
	cid, err := c.Manifest.Container()
	require.NoError(t, err)

	require.NoError(t, repo.Remove(cid))
	assert.Nil(t, repo.Get(cid))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

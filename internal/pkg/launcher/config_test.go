package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

func TestPlanMountsBindDefaultsReadOnly(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/lib": {Type: npk.MountBind, Host: "/usr/lib"},
	}}
	entries, err := planMounts(m, "app", "/data", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bind", entries[0].Kind)
	assert.True(t, entries[0].ReadOnly)
	assert.False(t, entries[0].Recursive)
}

func TestPlanMountsBindRWOption(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/var": {Type: npk.MountBind, Host: "/srv/var", Options: []string{"rw", "rec"}},
	}}
	entries, err := planMounts(m, "app", "/data", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].ReadOnly)
	assert.True(t, entries[0].Recursive)
}

func TestPlanMountsPersistUsesDataDirAndContainerName(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/data": {Type: npk.MountPersist},
	}}
	entries, err := planMounts(m, "hello", "/var/lib/northstar/data", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/var/lib/northstar/data/hello", entries[0].Source)
	assert.False(t, entries[0].ReadOnly)
}

func TestPlanMountsResourceRequiresResolvedRoot(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/opt/lib": {Type: npk.MountResource, Name: "libs"},
	}}
	_, err := planMounts(m, "app", "/data", nil)
	assert.Error(t, err)

	entries, err := planMounts(m, "app", "/data", map[string]string{"libs": "/run/northstar/resources/libs"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/run/northstar/resources/libs", entries[0].Source)
	assert.True(t, entries[0].ReadOnly)
}

func TestPlanMountsResourceSubdir(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/opt/lib": {Type: npk.MountResource, Name: "libs", Subdir: "/usr/lib"},
	}}
	entries, err := planMounts(m, "app", "/data", map[string]string{"libs": "/run/res/libs"})
	require.NoError(t, err)
	assert.Equal(t, "/run/res/libs/usr/lib", entries[0].Source)
}

func TestPlanMountsDevBindsHostDevReadOnly(t *testing.T) {
	m := &npk.Manifest{Mounts: map[string]npk.Mount{
		"/dev": {Type: npk.MountDev},
	}}
	entries, err := planMounts(m, "app", "/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev", entries[0].Source)
	assert.True(t, entries[0].ReadOnly)
}

func TestPlanMountsTmpfsCarriesSize(t *testing.T) {
	mnt := npk.Mount{Type: npk.MountTmpfs, Size: "10MB"}
	require.NoError(t, mnt.Validate())
	m := &npk.Manifest{Mounts: map[string]npk.Mount{"/tmp": mnt}}
	entries, err := planMounts(m, "app", "/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "tmpfs", entries[0].Kind)
	assert.EqualValues(t, 10_000_000, entries[0].SizeBytes)
}

func TestResolveSupplGroups(t *testing.T) {
	gids, err := resolveSupplGroups([]string{"100", "200"})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, gids)

	_, err = resolveSupplGroups([]string{"not-a-gid"})
	assert.Error(t, err)
}

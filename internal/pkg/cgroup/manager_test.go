package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

func ptr[T any](v T) *T { return &v }

func TestToResourcesTranslatesManifestConfig(t *testing.T) {
	cfg := &npk.CGroupsConfig{
		CPU: &npk.CPUCGroup{
			Shares: ptr(uint64(512)),
			Cpus:   "0,1",
		},
		Memory: &npk.MemoryCGroup{
			Limit:      ptr(int64(1_000_000)),
			SoftLimit:  ptr(int64(500_000)),
			Swappiness: ptr(uint64(10)),
		},
	}

	resources := toResources(cfg)
	require.NotNil(t, resources.CPU)
	require.NotNil(t, resources.CPU.Shares)
	assert.Equal(t, uint64(512), *resources.CPU.Shares)
	assert.Equal(t, "0,1", resources.CPU.Cpus)

	require.NotNil(t, resources.Memory)
	assert.Equal(t, int64(1_000_000), *resources.Memory.Limit)
	assert.Equal(t, int64(500_000), *resources.Memory.Reservation)
	assert.Equal(t, uint64(10), *resources.Memory.Swappiness)
}

func TestToResourcesNilConfig(t *testing.T) {
	resources := toResources(nil)
	assert.Nil(t, resources.CPU)
	assert.Nil(t, resources.Memory)
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "/northstar/hello:0.0.1", PathFor("/northstar", "hello", "0.0.1"))
}

package supervisor

import (
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

func mustContainer(t *testing.T, name, version string) container.Container {
	t.Helper()
	v, err := semver.Parse(version)
	require.NoError(t, err)
	c, err := container.New(name, v)
	require.NoError(t, err)
	return c
}

func TestResolveResourcePicksHighestSatisfyingVersion(t *testing.T) {
	s := &Supervisor{containers: map[container.Container]*containerState{}}
	for _, v := range []string{"1.0.0", "1.2.0", "2.0.0"} {
		c := mustContainer(t, "libs", v)
		s.containers[c] = &containerState{Container: c, Manifest: &npk.Manifest{}, State: StateMounted}
	}

	best, err := s.resolveResource("libs", "<2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", best.Container.Version().String())
}

func TestResolveResourceIgnoresNonResourceManifests(t *testing.T) {
	s := &Supervisor{containers: map[container.Container]*containerState{}}
	executable := mustContainer(t, "libs", "1.0.0")
	init := "/bin/app"
	s.containers[executable] = &containerState{Container: executable, Manifest: &npk.Manifest{Init: &init}, State: StateRunning}

	_, err := s.resolveResource("libs", "")
	assert.Error(t, err)
}

func TestResolveResourceNoMatchErrors(t *testing.T) {
	s := &Supervisor{containers: map[container.Container]*containerState{}}
	c := mustContainer(t, "libs", "1.0.0")
	s.containers[c] = &containerState{Container: c, Manifest: &npk.Manifest{}, State: StateMounted}

	_, err := s.resolveResource("libs", ">=2.0.0")
	assert.Error(t, err)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writableDirs(t *testing.T) (run, data, log string) {
	t.Helper()
	base := t.TempDir()
	run = filepath.Join(base, "run")
	data = filepath.Join(base, "data")
	log = filepath.Join(base, "log")
	for _, d := range []string{run, data, log} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return
}

func TestParseDefaults(t *testing.T) {
	run, data, log := writableDirs(t)
	cfg, err := Parse([]byte(`
run_dir = "` + run + `"
data_dir = "` + data + `"
log_dir = "` + log + `"
cgroup = "northstar"
`))
	require.NoError(t, err)
	assert.Equal(t, defaultEventBufferSize, cfg.EventBufferSize)
	assert.Equal(t, defaultNotificationBufferSize, cfg.NotificationBufferSize)
	assert.Equal(t, 10*time.Second, cfg.DeviceMapperDeviceTimeout.AsDuration())
}

func TestConsoleURLValidation(t *testing.T) {
	run, data, log := writableDirs(t)
	base := `
run_dir = "` + run + `"
data_dir = "` + data + `"
log_dir = "` + log + `"
cgroup = "northstar"

[debug]
console = "%s"
`

	_, err := Parse([]byte(fmt.Sprintf(base, "tcp://localhost:4200")))
	require.NoError(t, err)

	_, err = Parse([]byte(fmt.Sprintf(base, "http://localhost:4200")))
	assert.Error(t, err)
}

func TestUnknownFieldRejected(t *testing.T) {
	run, data, log := writableDirs(t)
	_, err := Parse([]byte(`
run_dir = "` + run + `"
data_dir = "` + data + `"
log_dir = "` + log + `"
cgroup = "northstar"
bogus_field = true
`))
	assert.Error(t, err)
}

func TestRepositoryValidation(t *testing.T) {
	run, data, log := writableDirs(t)
	repoDir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))

	cfg, err := Parse([]byte(`
run_dir = "` + run + `"
data_dir = "` + data + `"
log_dir = "` + log + `"
cgroup = "northstar"

[repositories.main]
type = "fs"
dir = "` + repoDir + `"
mount_on_start = true
`))
	require.NoError(t, err)
	assert.True(t, cfg.Repositories["main"].MountOnStart)

	_, err = Parse([]byte(`
run_dir = "` + run + `"
data_dir = "` + data + `"
log_dir = "` + log + `"
cgroup = "northstar"

[repositories.main]
type = "fs"
`))
	assert.Error(t, err)
}

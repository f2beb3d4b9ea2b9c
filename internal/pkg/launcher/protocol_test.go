package launcher

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

func TestSendRecvInitConfigRoundTrip(t *testing.T) {
	parent, child, err := socketpair("test-bootstrap")
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	init := "/bin/app"
	cfg := &initConfig{
		Name:    "hello",
		Version: "1.0.0",
		Root:    "/run/northstar/mounts/hello",
		Init:    init,
		Args:    []string{"--flag"},
		Env:     map[string]string{"FOO": "bar"},
		UID:     1000,
		GID:     1000,
		Mounts:  []mountPlanEntry{{Target: "/dev", Kind: "bind", Source: "/dev", ReadOnly: true}},
		IO:      &npk.IO{Stdout: npk.IOInherit},
	}

	done := make(chan error, 1)
	go func() {
		done <- sendInitConfig(parent, cfg)
	}()

	got, err := recvInitConfig(child)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, cfg.Name, got.Name)
	assert.Equal(t, cfg.Root, got.Root)
	assert.Equal(t, cfg.Args, got.Args)
	assert.Equal(t, cfg.Mounts, got.Mounts)
}

func TestAwaitHandshakeSuccessOnCleanClose(t *testing.T) {
	parent, child, err := socketpair("test-handshake-ok")
	require.NoError(t, err)
	defer parent.Close()

	require.NoError(t, child.Close())
	assert.NoError(t, awaitHandshake(parent))
}

func TestAwaitHandshakeFailureMessage(t *testing.T) {
	parent, child, err := socketpair("test-handshake-fail")
	require.NoError(t, err)
	defer parent.Close()

	reportFailure(child, assertionError("mount failed"))
	err = awaitHandshake(parent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mount failed")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }

func TestSocketpairProducesConnectedEnds(t *testing.T) {
	parent, child, err := socketpair("test-conn")
	require.NoError(t, err)
	defer parent.Close()
	defer child.Close()

	const msg = "ping"
	_, err = parent.Write([]byte(msg))
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = os.NewFile(child.Fd(), "child").Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

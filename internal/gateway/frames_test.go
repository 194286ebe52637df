// ABOUTME: Tests for frame payload builders and the close-code table

package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyFrame(t *testing.T) {
	f, err := identifyFrame("tok-123", 33280)
	require.NoError(t, err)
	assert.Equal(t, OpIdentify, f.Op)

	var d identifyData
	require.NoError(t, json.Unmarshal(f.D, &d))
	assert.Equal(t, "tok-123", d.Token)
	assert.Equal(t, 33280, d.Intents)
	assert.Equal(t, "linux", d.Properties.OS)
}

func TestResumeFrame(t *testing.T) {
	f, err := resumeFrame("tok-123", "sess-abc", 42)
	require.NoError(t, err)
	assert.Equal(t, OpResume, f.Op)

	var d resumeData
	require.NoError(t, json.Unmarshal(f.D, &d))
	assert.Equal(t, "tok-123", d.Token)
	assert.Equal(t, "sess-abc", d.SessionID)
	assert.Equal(t, int64(42), d.Seq)
}

func TestHeartbeatFrame(t *testing.T) {
	f := heartbeatFrame(nil)
	assert.Equal(t, OpHeartbeat, f.Op)
	assert.Equal(t, "null", string(f.D))

	seq := int64(42)
	f = heartbeatFrame(&seq)
	assert.Equal(t, "42", string(f.D))
}

func TestResumableCloseCode(t *testing.T) {
	resumable := []int{4000, 4001, 4002, 4003, 4005, 4007, 4008, 4009}
	for _, code := range resumable {
		assert.True(t, resumableCloseCode(code), "code %d", code)
	}

	fatal := []int{4004, 4010, 4011, 4012, 4013, 4014}
	for _, code := range fatal {
		assert.False(t, resumableCloseCode(code), "code %d", code)
	}

	// Unknown codes err toward resuming.
	assert.True(t, resumableCloseCode(1006))
	assert.True(t, resumableCloseCode(4999))
}

func TestFrameEnvelopeRoundTrip(t *testing.T) {
	raw := `{"op":0,"d":{"content":"hi"},"s":7,"t":"MESSAGE_CREATE"}`

	var f Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	assert.Equal(t, OpDispatch, f.Op)
	assert.Equal(t, "MESSAGE_CREATE", f.T)
	require.NotNil(t, f.S)
	assert.Equal(t, int64(7), *f.S)
	assert.JSONEq(t, `{"content":"hi"}`, string(f.D))
}

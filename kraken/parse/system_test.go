package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// The server emits pongs in two shapes; the parser accepts both.

func TestPongHeartbeatStyle(t *testing.T) {
	raw := `{"method":"pong","req_id":7,
		"time_in":"2024-01-01T00:00:00.000Z","time_out":"2024-01-01T00:00:00.050Z"}`
	var out schema.Pong
	require.True(t, Pong(mustObject(t, raw), &out))

	require.NotNil(t, out.ReqID)
	assert.Equal(t, uint64(7), *out.ReqID)
	assert.Nil(t, out.Success, "heartbeat-style pong has no success field")
	require.NotNil(t, out.TimeIn)
	require.NotNil(t, out.TimeOut)
	assert.Empty(t, out.Warnings)
	assert.Empty(t, out.Error)
}

func TestPongRequestStyleSuccess(t *testing.T) {
	raw := `{"method":"pong","success":true,"req_id":8,
		"result":{"warnings":["rate limit near"]}}`
	var out schema.Pong
	require.True(t, Pong(mustObject(t, raw), &out))

	require.NotNil(t, out.Success)
	assert.True(t, *out.Success)
	assert.Equal(t, []string{"rate limit near"}, out.Warnings)
}

func TestPongRequestStyleFailure(t *testing.T) {
	raw := `{"method":"pong","success":false,"error":"Internal error","req_id":9}`
	var out schema.Pong
	require.True(t, Pong(mustObject(t, raw), &out))

	require.NotNil(t, out.Success)
	assert.False(t, *out.Success)
	assert.Equal(t, "Internal error", out.Error)
}

func TestPongBareIsAccepted(t *testing.T) {
	// Neither success nor timestamps: permissively accepted.
	var out schema.Pong
	require.True(t, Pong(mustObject(t, `{"method":"pong"}`), &out))
	assert.Nil(t, out.ReqID)
	assert.Nil(t, out.Success)
}

func TestPongRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"success true without result": `{"method":"pong","success":true}`,
		"success false without error": `{"method":"pong","success":false}`,
		"bad req_id":                  `{"method":"pong","req_id":"7"}`,
		"bad time_in":                 `{"method":"pong","time_in":42}`,
	}
	for name, raw := range cases {
		var out schema.Pong
		ok := Pong(mustObject(t, raw), &out)
		assert.False(t, ok, name)
		assert.Equal(t, schema.Pong{}, out, "%s: output must be default", name)
	}
}

func TestStatusUpdate(t *testing.T) {
	raw := `{"channel":"status","type":"update","data":[
		{"system":"online","api_version":"v2","connection_id":12345678901234,"version":"2.0.0"}
	]}`
	var out schema.StatusUpdate
	require.True(t, StatusUpdate(mustObject(t, raw), &out))

	assert.Equal(t, schema.SystemOnline, out.System)
	assert.Equal(t, "v2", out.APIVersion)
	assert.Equal(t, uint64(12345678901234), out.ConnectionID)
	assert.Equal(t, "2.0.0", out.Version)
}

func TestStatusUpdateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing data":          `{"channel":"status","type":"update"}`,
		"empty data":            `{"channel":"status","type":"update","data":[]}`,
		"missing system":        `{"channel":"status","type":"update","data":[{"api_version":"v2","connection_id":1,"version":"2.0.0"}]}`,
		"missing api_version":   `{"channel":"status","type":"update","data":[{"system":"online","connection_id":1,"version":"2.0.0"}]}`,
		"missing connection_id": `{"channel":"status","type":"update","data":[{"system":"online","api_version":"v2","version":"2.0.0"}]}`,
		"missing version":       `{"channel":"status","type":"update","data":[{"system":"online","api_version":"v2","connection_id":1}]}`,
	}
	for name, raw := range cases {
		var out schema.StatusUpdate
		ok := StatusUpdate(mustObject(t, raw), &out)
		assert.False(t, ok, name)
		assert.Equal(t, schema.StatusUpdate{}, out, "%s: output must be default", name)
	}
}

func TestRejectionNotice(t *testing.T) {
	raw := `{"error":"Unsupported field: 'depths'","req_id":11,"symbol":"BTC/USD",
		"time_in":"2024-01-01T00:00:00.000Z","time_out":"2024-01-01T00:00:00.001Z"}`
	var out schema.RejectionNotice
	require.True(t, RejectionNotice(mustObject(t, raw), &out))

	assert.Equal(t, "Unsupported field: 'depths'", out.Error)
	require.NotNil(t, out.ReqID)
	assert.Equal(t, uint64(11), *out.ReqID)
	require.NotNil(t, out.Symbol)
	assert.Equal(t, schema.Symbol("BTC/USD"), *out.Symbol)
}

func TestRejectionNoticeMinimal(t *testing.T) {
	var out schema.RejectionNotice
	require.True(t, RejectionNotice(mustObject(t, `{"error":"nope"}`), &out))
	assert.Equal(t, "nope", out.Error)
	assert.Nil(t, out.ReqID)
	assert.Nil(t, out.Symbol)
}

func TestRejectionNoticeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing error": `{"req_id":1}`,
		"bad symbol":    `{"error":"nope","symbol":"BTCUSD"}`,
		"bad req_id":    `{"error":"nope","req_id":true}`,
	}
	for name, raw := range cases {
		var out schema.RejectionNotice
		ok := RejectionNotice(mustObject(t, raw), &out)
		assert.False(t, ok, name)
		assert.Equal(t, schema.RejectionNotice{}, out, "%s: output must be default", name)
	}
}

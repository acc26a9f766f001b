package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time intent witnesses: each request type carries exactly one
// intent.
var (
	_ SubscribeRequest   = TradeSubscribe{}
	_ SubscribeRequest   = BookSubscribe{}
	_ UnsubscribeRequest = TradeUnsubscribe{}
	_ UnsubscribeRequest = BookUnsubscribe{}
	_ ControlRequest     = Ping{}
)

func u64(v uint64) *uint64 { return &v }
func boolp(v bool) *bool   { return &v }
func intp(v int) *int      { return &v }

func TestTradeSubscribeMinimal(t *testing.T) {
	payload, err := TradeSubscribe{Symbols: []Symbol{"BTC/USD"}}.Encode()
	require.NoError(t, err)

	got := string(payload)
	assert.JSONEq(t, `{"method":"subscribe","params":{"channel":"trade","symbol":["BTC/USD"]}}`, got)

	// Optional fields must not leak defaults into the payload.
	assert.NotContains(t, got, "snapshot")
	assert.NotContains(t, got, "req_id")
	assert.NotContains(t, got, "depth")
}

func TestTradeSubscribeFull(t *testing.T) {
	payload, err := TradeSubscribe{
		Symbols:  []Symbol{"BTC/USD", "ETH/USD"},
		Snapshot: boolp(true),
		ReqID:    u64(42),
	}.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"method": "subscribe",
		"params": {
			"channel": "trade",
			"symbol": ["BTC/USD","ETH/USD"],
			"snapshot": true,
			"req_id": 42
		}
	}`, string(payload))
}

func TestTradeSubscribeSnapshotFalseIsEncoded(t *testing.T) {
	payload, err := TradeSubscribe{
		Symbols:  []Symbol{"BTC/USD"},
		Snapshot: boolp(false),
	}.Encode()
	require.NoError(t, err)

	// Explicitly set false is present; unset is absent.
	assert.Contains(t, string(payload), `"snapshot":false`)
}

func TestTradeSubscribeCompactOutput(t *testing.T) {
	payload, err := TradeSubscribe{Symbols: []Symbol{"BTC/USD"}}.Encode()
	require.NoError(t, err)
	assert.False(t, strings.ContainsAny(string(payload), " \n\t"))
}

func TestSubscribeRejectsEmptySymbols(t *testing.T) {
	_, err := TradeSubscribe{}.Encode()
	assert.ErrorIs(t, err, ErrNoSymbols)

	_, err = BookSubscribe{}.Encode()
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestSubscribeRejectsMalformedSymbol(t *testing.T) {
	for _, sym := range []Symbol{"BTCUSD", "/USD", "BTC/", ""} {
		_, err := TradeSubscribe{Symbols: []Symbol{sym}}.Encode()
		assert.Error(t, err, "symbol %q", sym)
	}
}

func TestSubscribeRejectsZeroReqID(t *testing.T) {
	_, err := TradeSubscribe{Symbols: []Symbol{"BTC/USD"}, ReqID: u64(0)}.Encode()
	assert.ErrorIs(t, err, ErrZeroReqID)
}

func TestTradeUnsubscribe(t *testing.T) {
	payload, err := TradeUnsubscribe{Symbols: []Symbol{"BTC/USD"}, ReqID: u64(7)}.Encode()
	require.NoError(t, err)

	got := string(payload)
	assert.JSONEq(t, `{"method":"unsubscribe","params":{"channel":"trade","symbol":["BTC/USD"],"req_id":7}}`, got)
	assert.NotContains(t, got, "snapshot")
}

func TestBookSubscribeWithDepth(t *testing.T) {
	payload, err := BookSubscribe{
		Symbols: []Symbol{"BTC/USD", "ETH/USD", "MATIC/GBP"},
		Depth:   intp(25),
	}.Encode()
	require.NoError(t, err)

	got := string(payload)
	assert.Contains(t, got, `"symbol":["BTC/USD","ETH/USD","MATIC/GBP"]`)
	assert.Contains(t, got, `"channel":"book"`)
	assert.Contains(t, got, `"depth":25`)
}

func TestBookSubscribeRejectsInvalidDepth(t *testing.T) {
	for _, depth := range []int{0, 1, 11, 50, 999, -10} {
		_, err := BookSubscribe{Symbols: []Symbol{"BTC/USD"}, Depth: intp(depth)}.Encode()
		assert.ErrorIs(t, err, ErrInvalidDepth, "depth %d", depth)
	}
	for _, depth := range []int{10, 25, 100, 500, 1000} {
		_, err := BookSubscribe{Symbols: []Symbol{"BTC/USD"}, Depth: intp(depth)}.Encode()
		assert.NoError(t, err, "depth %d", depth)
	}
}

func TestBookUnsubscribeNeverCarriesSnapshot(t *testing.T) {
	payload, err := BookUnsubscribe{Symbols: []Symbol{"BTC/USD"}, Depth: intp(10)}.Encode()
	require.NoError(t, err)

	got := string(payload)
	assert.JSONEq(t, `{"method":"unsubscribe","params":{"channel":"book","symbol":["BTC/USD"],"depth":10}}`, got)
	assert.NotContains(t, got, "snapshot")
}

func TestPingMinimal(t *testing.T) {
	payload, err := Ping{}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"ping"}`, string(payload))
}

func TestPingWithReqID(t *testing.T) {
	payload, err := Ping{ReqID: u64(9)}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"ping","req_id":9}`, string(payload))
}

package kraken

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/transport"
)

// wsServer is a scripted Kraken stand-in: it records every client request and
// lets tests inject arbitrary server messages on the active connection.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	incoming chan []byte
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{incoming: make(chan []byte, 64)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.incoming <- msg
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) active() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) send(t *testing.T, raw string) {
	t.Helper()
	conn := s.active()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// closeActive sends a close frame and drops the connection, as the exchange
// does on a graceful disconnect.
func (s *wsServer) closeActive() {
	conn := s.active()
	if conn == nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

// recv returns the next client request as decoded JSON.
func (s *wsServer) recv(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-s.incoming:
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client request")
		return nil
	}
}

// expectSilence asserts no client request arrives within the window.
func (s *wsServer) expectSilence(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case msg := <-s.incoming:
		t.Fatalf("unexpected client request: %s", msg)
	case <-time.After(window):
	}
}

func newTestSession(t *testing.T) (*Session, *wsServer) {
	t.Helper()
	srv := newWSServer(t)
	s := NewSession(Config{
		Connection: transport.ConnectionConfig{
			BackoffInitial:  10 * time.Millisecond,
			BackoffMax:      50 * time.Millisecond,
			LivenessTimeout: -1, // disabled; liveness has its own transport tests
		},
	})
	t.Cleanup(s.Close)
	require.NoError(t, s.Connect(srv.url()))
	return s, srv
}

func pollUntil(t *testing.T, s *Session, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Poll()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

func params(t *testing.T, msg map[string]any) map[string]any {
	t.Helper()
	p, ok := msg["params"].(map[string]any)
	require.True(t, ok, "request must carry params")
	return p
}

func tradeUpdateMsg(tradeID int) string {
	return `{"channel":"trade","type":"update","data":[
		{"symbol":"BTC/USD","side":"buy","qty":0.1,"price":50000,
		 "trade_id":` + strconv.Itoa(tradeID) + `,"timestamp":"2024-01-01T00:00:00.0Z"}]}`
}

func tradeSubAck(reqID uint64) string {
	return `{"method":"subscribe","success":true,
		"result":{"channel":"trade","symbol":"BTC/USD","snapshot":true},
		"req_id":` + strconv.FormatUint(reqID, 10) + `}`
}

func TestSessionTradeSubscriptionFlow(t *testing.T) {
	s, srv := newTestSession(t)
	assert.Equal(t, uint64(1), s.Epoch())

	var got []uint64
	snapshot := true
	reqID, err := s.SubscribeTrades(schema.TradeSubscribe{
		Symbols:  []schema.Symbol{"BTC/USD"},
		Snapshot: &snapshot,
	}, func(resp *schema.TradeResponse) {
		for _, tr := range resp.Trades {
			got = append(got, tr.TradeID)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reqID)
	assert.True(t, s.HasPending(schema.ChannelTrade))

	msg := srv.recv(t)
	assert.Equal(t, "subscribe", msg["method"])
	p := params(t, msg)
	assert.Equal(t, "trade", p["channel"])
	assert.Equal(t, []any{"BTC/USD"}, p["symbol"])
	assert.Equal(t, true, p["snapshot"])
	assert.Equal(t, float64(1), p["req_id"])

	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "subscription active")
	assert.False(t, s.HasPending(schema.ChannelTrade))
	assert.Equal(t, []schema.Symbol{"BTC/USD"}, s.ActiveSymbols(schema.ChannelTrade))

	for _, id := range []int{100, 101, 102} {
		srv.send(t, tradeUpdateMsg(id))
	}
	pollUntil(t, s, func() bool { return len(got) == 3 }, "three trade callbacks")
	assert.Equal(t, []uint64{100, 101, 102}, got, "delivery preserves server order")
}

func TestDuplicateSubscribeRejectedWithoutNetworkSend(t *testing.T) {
	s, srv := newTestSession(t)

	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	require.NoError(t, err)
	srv.recv(t)
	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active")

	_, err = s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	srv.expectSilence(t, 100*time.Millisecond)
}

func TestUnsubscribeRoundTripEmptiesRegistry(t *testing.T) {
	s, srv := newTestSession(t)

	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	require.NoError(t, err)
	srv.recv(t)
	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active")

	reqID, err := s.UnsubscribeTrades(schema.TradeUnsubscribe{Symbols: []schema.Symbol{"BTC/USD"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reqID)

	msg := srv.recv(t)
	assert.Equal(t, "unsubscribe", msg["method"])
	assert.Equal(t, float64(2), params(t, msg)["req_id"])

	srv.send(t, `{"method":"unsubscribe","success":true,
		"result":{"channel":"trade","symbol":"BTC/USD"},"req_id":2}`)
	pollUntil(t, s, func() bool {
		return !s.HasActive(schema.ChannelTrade) && !s.HasPending(schema.ChannelTrade)
	}, "registry empty after unsubscribe ack")
	assert.Empty(t, s.ActiveSymbols(schema.ChannelTrade))
	assert.Empty(t, s.PendingRequests(schema.ChannelTrade))
}

func TestReconnectReplaysActiveSubscriptions(t *testing.T) {
	s, srv := newTestSession(t)

	var got int
	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) { got++ })
	require.NoError(t, err)
	srv.recv(t)
	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active")

	srv.closeActive()
	pollUntil(t, s, func() bool { return s.Epoch() == 2 }, "reconnected under a new epoch")
	assert.Equal(t, 2, srv.connCount())

	// The replayed subscribe carries a fresh req_id.
	msg := srv.recv(t)
	assert.Equal(t, "subscribe", msg["method"])
	assert.Equal(t, float64(2), params(t, msg)["req_id"])
	assert.True(t, s.HasPending(schema.ChannelTrade))

	srv.send(t, tradeSubAck(2))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active again after replay")

	// Updates keep flowing on the new connection through the original handler.
	srv.send(t, tradeUpdateMsg(103))
	pollUntil(t, s, func() bool { return got == 1 }, "update delivered after replay")
}

func TestStaleAckFromPreviousEpochDiscarded(t *testing.T) {
	s, srv := newTestSession(t)

	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	require.NoError(t, err)
	srv.recv(t)
	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active")

	srv.closeActive()
	pollUntil(t, s, func() bool { return s.Epoch() == 2 }, "reconnected")
	srv.recv(t) // replayed subscribe, req_id 2

	// An ack for the old request must not resolve the replayed entry.
	srv.send(t, tradeSubAck(1))
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.Poll()
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, s.HasPending(schema.ChannelTrade), "stale ack must be discarded")

	srv.send(t, tradeSubAck(2))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "current-epoch ack resolves")
}

func TestFailedSubscribeAckRevertsAndSurfacesRejection(t *testing.T) {
	s, srv := newTestSession(t)

	var rejections []string
	s.OnRejection(func(n *schema.RejectionNotice) { rejections = append(rejections, n.Error) })

	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"XXX/XXX"}},
		func(*schema.TradeResponse) {})
	require.NoError(t, err)
	srv.recv(t)

	srv.send(t, `{"method":"subscribe","success":false,"error":"Currency pair not supported","req_id":1}`)
	pollUntil(t, s, func() bool { return len(rejections) == 1 }, "rejection surfaced")
	assert.Equal(t, "Currency pair not supported", rejections[0])
	assert.False(t, s.HasPending(schema.ChannelTrade))

	// The symbol is inactive again; a new subscribe passes the local check.
	_, err = s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"XXX/XXX"}},
		func(*schema.TradeResponse) {})
	assert.NoError(t, err)
}

func TestPingPongHeartbeatForm(t *testing.T) {
	s, srv := newTestSession(t)

	var pongs []*schema.Pong
	s.OnPong(func(p *schema.Pong) { pongs = append(pongs, p) })

	reqID, err := s.Ping(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reqID)

	msg := srv.recv(t)
	assert.Equal(t, "ping", msg["method"])
	assert.Equal(t, float64(1), msg["req_id"])

	srv.send(t, `{"method":"pong","req_id":1,
		"time_in":"2024-01-01T00:00:00.000Z","time_out":"2024-01-01T00:00:00.050Z"}`)
	pollUntil(t, s, func() bool { return len(pongs) == 1 }, "pong delivered")

	pong := pongs[0]
	require.NotNil(t, pong.ReqID)
	assert.Equal(t, uint64(1), *pong.ReqID)
	assert.Nil(t, pong.Success, "heartbeat-style pong carries no success field")
	require.NotNil(t, pong.TimeIn)
	require.NotNil(t, pong.TimeOut)
}

func TestHeartbeatStatsMonotonic(t *testing.T) {
	s, srv := newTestSession(t)

	assert.Zero(t, s.HeartbeatTotal())
	assert.True(t, s.LastHeartbeat().IsZero())

	for i := 0; i < 3; i++ {
		srv.send(t, `{"channel":"heartbeat"}`)
	}
	pollUntil(t, s, func() bool { return s.HeartbeatTotal() == 3 }, "heartbeats counted")
	assert.False(t, s.LastHeartbeat().IsZero())

	prev := s.HeartbeatTotal()
	for i := 0; i < 10; i++ {
		s.Poll()
		cur := s.HeartbeatTotal()
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestStatusDelivery(t *testing.T) {
	s, srv := newTestSession(t)

	var statuses []*schema.StatusUpdate
	s.OnStatus(func(u *schema.StatusUpdate) { statuses = append(statuses, u) })

	srv.send(t, `{"channel":"status","type":"update","data":[
		{"system":"online","api_version":"v2","connection_id":42,"version":"2.0.0"}]}`)
	pollUntil(t, s, func() bool { return len(statuses) == 1 }, "status delivered")
	assert.Equal(t, schema.SystemOnline, statuses[0].System)
	assert.Equal(t, uint64(42), statuses[0].ConnectionID)
}

func TestRejectionNoticeDelivery(t *testing.T) {
	s, srv := newTestSession(t)

	var rejections []*schema.RejectionNotice
	s.OnRejection(func(n *schema.RejectionNotice) { rejections = append(rejections, n) })

	srv.send(t, `{"error":"Unsupported field: 'depths'"}`)
	pollUntil(t, s, func() bool { return len(rejections) == 1 }, "rejection notice delivered")
	assert.Equal(t, "Unsupported field: 'depths'", rejections[0].Error)
}

func TestBookSubscriptionFlow(t *testing.T) {
	s, srv := newTestSession(t)

	depth := 10
	var snapshots int
	_, err := s.SubscribeBook(schema.BookSubscribe{
		Symbols: []schema.Symbol{"BTC/USD"},
		Depth:   &depth,
	}, func(resp *schema.BookResponse) {
		if resp.Type == schema.PayloadSnapshot {
			snapshots++
		}
	})
	require.NoError(t, err)

	msg := srv.recv(t)
	p := params(t, msg)
	assert.Equal(t, "book", p["channel"])
	assert.Equal(t, float64(10), p["depth"])

	srv.send(t, `{"method":"subscribe","success":true,
		"result":{"channel":"book","symbol":"BTC/USD","depth":10,"snapshot":true},"req_id":1}`)
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelBook) }, "book active")

	srv.send(t, `{"channel":"book","type":"snapshot","data":[
		{"symbol":"BTC/USD","bids":[{"price":50000,"qty":1}],"asks":[{"price":50001,"qty":2}],
		 "checksum":7}]}`)
	pollUntil(t, s, func() bool { return snapshots == 1 }, "book snapshot delivered")
}

func TestSubscribeRequiresConnection(t *testing.T) {
	s := NewSession(Config{})
	t.Cleanup(s.Close)

	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionClosedIsTerminal(t *testing.T) {
	s, _ := newTestSession(t)
	s.Close()

	assert.Equal(t, transport.StateClosed, s.ConnState())
	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Connect(""), ErrSessionClosed)
	s.Poll() // must be a no-op
}

func TestNilCallbackRejected(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}}, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestCallbackPanicContained(t *testing.T) {
	s, srv := newTestSession(t)

	var calls int
	_, err := s.SubscribeTrades(schema.TradeSubscribe{Symbols: []schema.Symbol{"BTC/USD"}},
		func(*schema.TradeResponse) {
			calls++
			panic("user bug")
		})
	require.NoError(t, err)
	srv.recv(t)
	srv.send(t, tradeSubAck(1))
	pollUntil(t, s, func() bool { return s.HasActive(schema.ChannelTrade) }, "active")

	srv.send(t, tradeUpdateMsg(100))
	srv.send(t, tradeUpdateMsg(101))
	pollUntil(t, s, func() bool { return calls == 2 }, "panicking callback keeps being dispatched")
}

// Package transport implements the framed WebSocket byte transport and the
// reconnecting connection state machine above it.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/romanzzaa/krakenws/control"
	"github.com/romanzzaa/krakenws/ring"
)

const (
	// DefaultMessageBufferSize bounds a single received message including all
	// fragments. Kraken v2 trade and book deltas are well under 2 KiB;
	// snapshots occasionally run larger but rarely approach this.
	DefaultMessageBufferSize = 8 * 1024

	// DefaultBlockRingCapacity is the number of preallocated message blocks.
	DefaultBlockRingCapacity = 256

	// DefaultEventRingCapacity bounds the lossless control-event ring.
	DefaultEventRingCapacity = 16

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// WebSocketConfig tunes a single WebSocket transport instance.
type WebSocketConfig struct {
	MessageBufferSize int // per-message buffer; larger messages are a protocol error
	BlockRingCapacity int // power of two
	EventRingCapacity int // power of two
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	// Backpressure shapes slot-acquisition outcomes into detected/cleared
	// events. Nil selects the Strict preset.
	Backpressure *control.Hysteresis

	Logger *slog.Logger
}

func (c *WebSocketConfig) applyDefaults() {
	if c.MessageBufferSize <= 0 {
		c.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.BlockRingCapacity <= 0 {
		c.BlockRingCapacity = DefaultBlockRingCapacity
	}
	if c.EventRingCapacity <= 0 {
		c.EventRingCapacity = DefaultEventRingCapacity
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Backpressure == nil {
		c.Backpressure = control.NewStrict()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DataBlock is a fixed-size buffer holding one committed message. Blocks are
// preallocated at construction and recycled through a free ring; the receive
// loop never allocates.
type DataBlock struct {
	buf []byte
	n   int
}

// Bytes returns the committed message payload. Valid until ReleaseMessage.
func (b *DataBlock) Bytes() []byte {
	return b.buf[:b.n]
}

// MessageHandler consumes a committed message on the receive goroutine and
// reports whether a downstream slot was acquired for it. A false return is a
// back-pressure signal; the message is dropped. The payload is only valid for
// the duration of the call.
type MessageHandler func(payload []byte) bool

// WebSocket is a message-oriented transport over a TLS WebSocket. One internal
// receive goroutine commits messages into fixed-size blocks; all consumer
// operations happen on the polling goroutine.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	msgRing  *ring.SPSC[*DataBlock]
	freeRing *ring.SPSC[*DataBlock]
	events   *ring.SPSC[Event]
	current  *DataBlock

	onMessage MessageHandler
	onClose   func()
	onError   func(ErrorKind)

	lastActivity atomic.Int64 // unix nanos of the last observed byte arrival
	localClose   atomic.Bool
	fatal        atomic.Bool // lossless event ring overflowed
	closeOnce    sync.Once
	done         chan struct{}
}

// NewWebSocket builds an unconnected transport.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	cfg.applyDefaults()
	w := &WebSocket{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "transport.websocket"),
		msgRing:  ring.MustSPSC[*DataBlock](cfg.BlockRingCapacity),
		freeRing: ring.MustSPSC[*DataBlock](cfg.BlockRingCapacity),
		events:   ring.MustSPSC[Event](cfg.EventRingCapacity),
		done:     make(chan struct{}),
	}
	for i := 0; i < cfg.BlockRingCapacity; i++ {
		w.freeRing.TryPush(&DataBlock{buf: make([]byte, cfg.MessageBufferSize)})
	}
	return w
}

// SetMessageHandler installs a receive-goroutine message callback. When set,
// committed messages bypass the block ring and are delivered directly; the
// handler's return value feeds the back-pressure detector. Must be called
// before Connect.
func (w *WebSocket) SetMessageHandler(h MessageHandler) { w.onMessage = h }

// SetCloseHandler installs an optional close callback (legacy path).
func (w *WebSocket) SetCloseHandler(h func()) { w.onClose = h }

// SetErrorHandler installs an optional error callback (legacy path).
func (w *WebSocket) SetErrorHandler(h func(ErrorKind)) { w.onError = h }

// Connect dials the endpoint and starts the receive goroutine. The URL scheme
// must be ws or wss.
func (w *WebSocket) Connect(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("transport: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("transport: endpoint scheme must be ws or wss, got %q", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}

	// The read limit enforces the per-message buffer contract: a message of
	// exactly MessageBufferSize bytes is accepted, one byte more errors out.
	conn.SetReadLimit(int64(w.cfg.MessageBufferSize))

	w.conn = conn
	w.touch()
	go w.recvLoop()

	w.logger.Info("connected", "endpoint", endpoint)
	return nil
}

// Send writes one text message. Returns false when the write fails or the
// transport is closed.
func (w *WebSocket) Send(payload []byte) bool {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.conn == nil || w.localClose.Load() {
		return false
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		w.logger.Warn("send failed", "err", err)
		return false
	}
	return true
}

// Close shuts the transport down. The receive goroutine observes the closed
// connection and commits a final Close event.
func (w *WebSocket) Close() {
	w.closeOnce.Do(func() {
		w.localClose.Store(true)
		if w.conn != nil {
			w.writeMu.Lock()
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			_ = w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			w.writeMu.Unlock()
			_ = w.conn.Close()
		} else {
			// Never connected; nothing will push the Close event for us.
			w.pushEvent(closeEvent())
			close(w.done)
		}
	})
}

// PeekMessage exposes the oldest committed message without copying. The slice
// stays valid until ReleaseMessage. Polling goroutine only.
func (w *WebSocket) PeekMessage() ([]byte, bool) {
	if w.current == nil {
		blk, ok := w.msgRing.TryPop()
		if !ok {
			return nil, false
		}
		w.current = blk
	}
	return w.current.Bytes(), true
}

// ReleaseMessage recycles the block returned by the last PeekMessage.
func (w *WebSocket) ReleaseMessage() {
	if w.current == nil {
		return
	}
	w.freeRing.TryPush(w.current)
	w.current = nil
}

// PollEvent drains one control event. Polling goroutine only.
func (w *WebSocket) PollEvent() (Event, bool) {
	return w.events.TryPop()
}

// Fatal reports whether the lossless event ring overflowed, which invalidates
// the transport's control-plane guarantees.
func (w *WebSocket) Fatal() bool {
	return w.fatal.Load()
}

// LastActivity returns the time of the most recent observed byte arrival.
func (w *WebSocket) LastActivity() time.Time {
	return time.Unix(0, w.lastActivity.Load())
}

// Done is closed when the receive goroutine has exited.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

func (w *WebSocket) touch() {
	w.lastActivity.Store(time.Now().UnixNano())
}

// pushEvent commits a control event. Overflow here is fatal: control-plane
// events are lossless by contract.
func (w *WebSocket) pushEvent(ev Event) {
	if !w.events.TryPush(ev) {
		w.fatal.Store(true)
		w.logger.Error("control event ring full, transport state is fatal", "event", ev.Type)
	}
}

func (w *WebSocket) recvLoop() {
	defer close(w.done)

	scratch := make([]byte, w.cfg.MessageBufferSize)

	for {
		_, r, err := w.conn.NextReader()
		if err != nil {
			w.finish(err)
			return
		}
		w.touch()

		if w.onMessage != nil {
			n, err := w.readMessage(r, scratch)
			if err != nil {
				w.finish(err)
				return
			}
			w.signalSlot(w.onMessage(scratch[:n]))
			continue
		}

		blk, ok := w.freeRing.TryPop()
		if !ok {
			// No free block: drop the message and record the miss.
			if _, err := io.Copy(io.Discard, r); err != nil {
				w.finish(err)
				return
			}
			w.signalSlot(false)
			continue
		}
		n, err := w.readMessage(r, blk.buf)
		if err != nil {
			w.freeRing.TryPush(blk)
			w.finish(err)
			return
		}
		blk.n = n
		w.msgRing.TryPush(blk) // cannot fail: blocks in flight never exceed capacity
		w.signalSlot(true)
	}
}

// readMessage drains one message into buf. The connection's read limit
// guarantees the message fits; anything larger already errored in NextReader
// or errors here.
func (w *WebSocket) readMessage(r io.Reader, buf []byte) (int, error) {
	n := 0
	for {
		m, err := r.Read(buf[n:])
		n += m
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if n == len(buf) {
			// Buffer exactly filled; confirm the message ends here.
			var probe [1]byte
			if m, err := r.Read(probe[:]); m > 0 {
				return n, websocket.ErrReadLimit
			} else if err == io.EOF {
				return n, nil
			} else if err != nil {
				return n, err
			}
		}
	}
}

// signalSlot feeds one slot-acquisition outcome into the back-pressure
// detector and emits edge events on transitions.
func (w *WebSocket) signalSlot(acquired bool) {
	var tr control.Transition
	if acquired {
		tr = w.cfg.Backpressure.OnInactiveSignal()
	} else {
		tr = w.cfg.Backpressure.OnActiveSignal()
	}
	switch tr {
	case control.Activated:
		w.logger.Warn("backpressure detected")
		w.pushEvent(backpressureDetectedEvent())
	case control.Deactivated:
		w.logger.Info("backpressure cleared")
		w.pushEvent(backpressureClearedEvent())
	}
}

// finish classifies the terminal receive error and commits the corresponding
// control events.
func (w *WebSocket) finish(err error) {
	kind := classifyReadError(err, w.localClose.Load())
	switch kind {
	case ErrLocalShutdown:
		w.logger.Debug("receive loop ended after local shutdown")
	case ErrRemoteClosed:
		w.logger.Info("remote closed connection", "err", err)
	default:
		w.logger.Warn("receive loop ended", "kind", kind, "err", err)
	}

	if kind != ErrLocalShutdown {
		w.pushEvent(errorEvent(kind))
		if w.onError != nil {
			w.onError(kind)
		}
	}
	w.pushEvent(closeEvent())
	if w.onClose != nil {
		w.onClose()
	}
	_ = w.conn.Close()
}

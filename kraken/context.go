// Package kraken implements the protocol session: request/ack correlation,
// subscription state, message routing and the poll-driven delivery loop on
// top of the transport layer.
package kraken

import (
	"sync/atomic"
	"time"

	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/ring"
)

// Default ring capacities per message kind. Data-plane rings are sized for
// bursty market data; control-plane rings stay small because acks are rare
// and must be drained promptly.
const (
	DefaultTradeRingCapacity     = 256
	DefaultBookRingCapacity      = 256
	DefaultAckRingCapacity       = 16
	DefaultRejectionRingCapacity = 16
)

// msgRings owns all parser-visible state: one SPSC ring per message kind,
// single-slot holders for pong and status, and the heartbeat statistics. The
// router goroutine produces; the polling goroutine consumes.
type msgRings struct {
	rejection  *ring.SPSC[schema.RejectionNotice]
	trade      *ring.SPSC[schema.TradeResponse]
	tradeSub   *ring.SPSC[schema.TradeSubscribeAck]
	tradeUnsub *ring.SPSC[schema.TradeUnsubscribeAck]
	book       *ring.SPSC[schema.BookResponse]
	bookSub    *ring.SPSC[schema.BookSubscribeAck]
	bookUnsub  *ring.SPSC[schema.BookUnsubscribeAck]

	// Latest-value slots; older values are superseded, not queued.
	pongSlot   atomic.Pointer[schema.Pong]
	statusSlot atomic.Pointer[schema.StatusUpdate]

	heartbeatTotal atomic.Uint64
	lastHeartbeat  atomic.Int64 // unix nanos

	// controlFull latches when a lossless control-plane ring rejects a push.
	// The session treats it as a fatal transport condition.
	controlFull atomic.Bool
}

func newMsgRings(tradeCap, bookCap, ackCap, rejectionCap int) *msgRings {
	return &msgRings{
		rejection:  ring.MustSPSC[schema.RejectionNotice](rejectionCap),
		trade:      ring.MustSPSC[schema.TradeResponse](tradeCap),
		tradeSub:   ring.MustSPSC[schema.TradeSubscribeAck](ackCap),
		tradeUnsub: ring.MustSPSC[schema.TradeUnsubscribeAck](ackCap),
		book:       ring.MustSPSC[schema.BookResponse](bookCap),
		bookSub:    ring.MustSPSC[schema.BookSubscribeAck](ackCap),
		bookUnsub:  ring.MustSPSC[schema.BookUnsubscribeAck](ackCap),
	}
}

func (m *msgRings) recordHeartbeat() {
	m.heartbeatTotal.Add(1)
	m.lastHeartbeat.Store(time.Now().UnixNano())
}

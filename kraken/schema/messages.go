package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one executed trade from the trade channel.
type Trade struct {
	Symbol    Symbol
	Side      Side
	Qty       decimal.Decimal
	Price     decimal.Decimal
	TradeID   uint64
	Timestamp time.Time
	OrdType   OrderType // optional on the wire; OrderTypeUnknown when absent
}

// TradeResponse is a trade channel snapshot or update message.
type TradeResponse struct {
	Type   PayloadType
	Trades []Trade
}

// Reset restores the zero value so a failed parse leaves defined output.
func (r *TradeResponse) Reset() { *r = TradeResponse{} }

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BookEntry is the per-symbol payload of a book message.
type BookEntry struct {
	Symbol    Symbol
	Bids      []BookLevel
	Asks      []BookLevel
	Checksum  uint32
	Timestamp *time.Time // nil when absent; the server sends it on updates
}

// BookResponse is a book channel snapshot or update message.
type BookResponse struct {
	Type    PayloadType
	Entries []BookEntry
}

func (r *BookResponse) Reset() { *r = BookResponse{} }

// Ack carries the fields shared by subscribe and unsubscribe acknowledgements.
// Depth is meaningful on the book channel only; Snapshot and Warnings only on
// subscribe acks. On failure Error holds the server's message and the result
// fields are unset.
type Ack struct {
	Success  bool
	Symbol   Symbol
	Depth    uint32
	Snapshot bool
	Warnings []string
	Error    string
	ReqID    *uint64
	TimeIn   *time.Time
	TimeOut  *time.Time
}

// TradeSubscribeAck acknowledges a trade subscribe request.
type TradeSubscribeAck struct{ Ack }

// TradeUnsubscribeAck acknowledges a trade unsubscribe request.
type TradeUnsubscribeAck struct{ Ack }

// BookSubscribeAck acknowledges a book subscribe request.
type BookSubscribeAck struct{ Ack }

// BookUnsubscribeAck acknowledges a book unsubscribe request.
type BookUnsubscribeAck struct{ Ack }

// Pong is the reply to a ping. The server emits two shapes: a heartbeat-style
// reply carrying only req_id and engine timestamps, and a request-style reply
// carrying success plus result warnings or an error. Success is nil in the
// heartbeat-style form.
type Pong struct {
	ReqID    *uint64
	TimeIn   *time.Time
	TimeOut  *time.Time
	Success  *bool
	Warnings []string
	Error    string
}

func (p *Pong) Reset() { *p = Pong{} }

// StatusUpdate is the status channel payload.
type StatusUpdate struct {
	System       SystemState
	APIVersion   string
	ConnectionID uint64
	Version      string
}

func (u *StatusUpdate) Reset() { *u = StatusUpdate{} }

// RejectionNotice is a well-formed server rejection of a client request: an
// error at the message root without a method.
type RejectionNotice struct {
	Error   string
	ReqID   *uint64
	Symbol  *Symbol
	TimeIn  *time.Time
	TimeOut *time.Time
}

func (n *RejectionNotice) Reset() { *n = RejectionNotice{} }

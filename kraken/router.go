package kraken

import (
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/parse"
	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/metrics"
)

// pendingRoute remembers which channel a req_id belongs to so failure acks,
// which carry no channel, can still reach the right ack ring. Written by the
// polling goroutine at issue time, read by the router goroutine.
type pendingRoute struct {
	channel string
}

// router discriminates each committed message and pushes the parsed value
// into the matching ring or latest-slot. It runs entirely on the transport
// receive goroutine; the rings are the handoff to the polling goroutine.
type router struct {
	rings   *msgRings
	pending *sync.Map // req_id (uint64) -> pendingRoute
	logger  *slog.Logger
}

func newRouter(rings *msgRings, pending *sync.Map, logger *slog.Logger) *router {
	return &router{
		rings:   rings,
		pending: pending,
		logger:  logger.With("component", "kraken.router"),
	}
}

// Route consumes one raw message and reports whether a downstream slot was
// acquired for it. A false return means a data-plane ring was full and the
// message was dropped; the transport shapes that into back-pressure events.
// Malformed messages are dropped silently (debug log only) and never count
// as back-pressure.
func (r *router) Route(raw []byte) bool {
	obj, ok := parse.Object(raw)
	if !ok {
		r.drop("envelope", raw)
		return true
	}

	if method, ok := parse.StringRequired(obj, "method"); ok {
		return r.routeMethod(method, obj, raw)
	}
	if channel, ok := parse.StringRequired(obj, "channel"); ok {
		return r.routeChannel(channel, obj, raw)
	}
	if _, present := obj["error"]; present {
		r.routeRejection(obj, raw)
		return true
	}

	r.drop("unrecognized", raw)
	return true
}

func (r *router) routeMethod(method string, obj map[string]json.RawMessage, raw []byte) bool {
	switch method {
	case schema.MethodPong:
		var pong schema.Pong
		if !parse.Pong(obj, &pong) {
			r.drop("pong", raw)
			return true
		}
		r.rings.pongSlot.Store(&pong)
		return true

	case schema.MethodSubscribe, schema.MethodUnsubscribe:
		return r.routeAck(method, obj, raw)

	default:
		r.drop("method", raw)
		return true
	}
}

// routeAck resolves the target channel from result.channel on success, or
// from the matching pending request on failure, then parses into the channel
// and method specific ack ring. Ack rings are control plane: a full ring is
// fatal, never a silent drop.
func (r *router) routeAck(method string, obj map[string]json.RawMessage, raw []byte) bool {
	success, ok := parse.BoolRequired(obj, "success")
	if !ok {
		r.drop("ack", raw)
		return true
	}

	var channel string
	if success {
		result, ok := parse.ObjectRequired(obj, "result")
		if !ok {
			r.drop("ack", raw)
			return true
		}
		if channel, ok = parse.StringRequired(result, "channel"); !ok {
			r.drop("ack", raw)
			return true
		}
	} else {
		reqID, ok := parse.Uint64Required(obj, "req_id")
		if !ok {
			r.drop("ack", raw)
			return true
		}
		route, ok := r.pending.Load(reqID)
		if !ok {
			r.drop("ack:unmatched", raw)
			return true
		}
		channel = route.(pendingRoute).channel
	}

	switch {
	case channel == schema.ChannelTrade && method == schema.MethodSubscribe:
		var ack schema.TradeSubscribeAck
		if !parse.TradeSubscribeAck(obj, &ack) {
			r.drop("trade_subscribe_ack", raw)
			return true
		}
		r.pushControl(r.rings.tradeSub.TryPush(ack))
	case channel == schema.ChannelTrade && method == schema.MethodUnsubscribe:
		var ack schema.TradeUnsubscribeAck
		if !parse.TradeUnsubscribeAck(obj, &ack) {
			r.drop("trade_unsubscribe_ack", raw)
			return true
		}
		r.pushControl(r.rings.tradeUnsub.TryPush(ack))
	case channel == schema.ChannelBook && method == schema.MethodSubscribe:
		var ack schema.BookSubscribeAck
		if !parse.BookSubscribeAck(obj, &ack) {
			r.drop("book_subscribe_ack", raw)
			return true
		}
		r.pushControl(r.rings.bookSub.TryPush(ack))
	case channel == schema.ChannelBook && method == schema.MethodUnsubscribe:
		var ack schema.BookUnsubscribeAck
		if !parse.BookUnsubscribeAck(obj, &ack) {
			r.drop("book_unsubscribe_ack", raw)
			return true
		}
		r.pushControl(r.rings.bookUnsub.TryPush(ack))
	default:
		r.drop("ack:channel", raw)
	}
	return true
}

func (r *router) routeChannel(channel string, obj map[string]json.RawMessage, raw []byte) bool {
	switch channel {
	case schema.ChannelHeartbeat:
		r.rings.recordHeartbeat()
		metrics.HeartbeatsTotal.Inc()
		return true

	case schema.ChannelStatus:
		var update schema.StatusUpdate
		if !parse.StatusUpdate(obj, &update) {
			r.drop("status", raw)
			return true
		}
		r.rings.statusSlot.Store(&update)
		return true

	case schema.ChannelTrade:
		var resp schema.TradeResponse
		if !parse.TradeResponse(obj, &resp) {
			r.drop("trade", raw)
			return true
		}
		if !r.rings.trade.TryPush(resp) {
			metrics.DroppedMessagesTotal.WithLabelValues(schema.ChannelTrade).Inc()
			return false
		}
		return true

	case schema.ChannelBook:
		var resp schema.BookResponse
		if !parse.BookResponse(obj, &resp) {
			r.drop("book", raw)
			return true
		}
		if !r.rings.book.TryPush(resp) {
			metrics.DroppedMessagesTotal.WithLabelValues(schema.ChannelBook).Inc()
			return false
		}
		return true

	default:
		r.drop("channel", raw)
		return true
	}
}

func (r *router) routeRejection(obj map[string]json.RawMessage, raw []byte) {
	var notice schema.RejectionNotice
	if !parse.RejectionNotice(obj, &notice) {
		r.drop("rejection", raw)
		return
	}
	metrics.RejectionsTotal.Inc()
	r.pushControl(r.rings.rejection.TryPush(notice))
}

// pushControl latches the fatal flag when a lossless control-plane push
// fails.
func (r *router) pushControl(pushed bool) {
	if !pushed {
		r.rings.controlFull.Store(true)
		r.logger.Error("control-plane ring full")
	}
}

func (r *router) drop(kind string, raw []byte) {
	metrics.ParseFailuresTotal.WithLabelValues(kind).Inc()
	r.logger.Debug("message dropped", "kind", kind, "len", len(raw))
}

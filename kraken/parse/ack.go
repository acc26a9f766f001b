package parse

import (
	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// ackShape parameterizes the common acknowledgement parser: book acks carry a
// depth, subscribe acks carry snapshot plus optional warnings.
type ackShape struct {
	depth         bool
	subscribeOnly bool
}

// ackCommon decodes the fields shared by subscribe and unsubscribe acks. On
// success the result object is required and must not coexist with an error
// field; on failure only the error string is required. req_id and the engine
// timestamps are optional either way.
func ackCommon(obj map[string]json.RawMessage, shape ackShape, out *schema.Ack) bool {
	*out = schema.Ack{}

	success, ok := BoolRequired(obj, "success")
	if !ok {
		return false
	}
	out.Success = success

	if success {
		result, ok := ObjectRequired(obj, "result")
		if !ok {
			return false
		}
		if out.Symbol, ok = SymbolRequired(result, "symbol"); !ok {
			return false
		}
		if shape.depth {
			if out.Depth, ok = DepthRequired(result, "depth"); !ok {
				return false
			}
		}
		if shape.subscribeOnly {
			if out.Snapshot, ok = BoolRequired(result, "snapshot"); !ok {
				return false
			}
			if out.Warnings, ok = StringListOptional(result, "warnings"); !ok {
				return false
			}
		}
		if _, present := obj["error"]; present {
			return false
		}
	} else {
		errStr, ok := StringRequired(obj, "error")
		if !ok {
			return false
		}
		out.Error = errStr
	}

	if out.ReqID, ok = Uint64Optional(obj, "req_id"); !ok {
		return false
	}
	if out.TimeIn, ok = TimestampOptional(obj, "time_in"); !ok {
		return false
	}
	if out.TimeOut, ok = TimestampOptional(obj, "time_out"); !ok {
		return false
	}
	return true
}

// TradeSubscribeAck decodes a trade subscribe acknowledgement.
func TradeSubscribeAck(obj map[string]json.RawMessage, out *schema.TradeSubscribeAck) bool {
	if !ackCommon(obj, ackShape{subscribeOnly: true}, &out.Ack) {
		out.Ack = schema.Ack{}
		return false
	}
	return true
}

// TradeUnsubscribeAck decodes a trade unsubscribe acknowledgement.
func TradeUnsubscribeAck(obj map[string]json.RawMessage, out *schema.TradeUnsubscribeAck) bool {
	if !ackCommon(obj, ackShape{}, &out.Ack) {
		out.Ack = schema.Ack{}
		return false
	}
	return true
}

// BookSubscribeAck decodes a book subscribe acknowledgement.
func BookSubscribeAck(obj map[string]json.RawMessage, out *schema.BookSubscribeAck) bool {
	if !ackCommon(obj, ackShape{depth: true, subscribeOnly: true}, &out.Ack) {
		out.Ack = schema.Ack{}
		return false
	}
	return true
}

// BookUnsubscribeAck decodes a book unsubscribe acknowledgement.
func BookUnsubscribeAck(obj map[string]json.RawMessage, out *schema.BookUnsubscribeAck) bool {
	if !ackCommon(obj, ackShape{depth: true}, &out.Ack) {
		out.Ack = schema.Ack{}
		return false
	}
	return true
}

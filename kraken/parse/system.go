package parse

import (
	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// Pong decodes both pong shapes the server emits: the heartbeat-style reply
// with only req_id and engine timestamps, and the request-style reply where
// success is present and selects between result.warnings and error. A result
// or error is only demanded when success is present.
func Pong(obj map[string]json.RawMessage, out *schema.Pong) bool {
	out.Reset()

	var ok bool
	if out.ReqID, ok = Uint64Optional(obj, "req_id"); !ok {
		out.Reset()
		return false
	}
	if out.TimeIn, ok = TimestampOptional(obj, "time_in"); !ok {
		out.Reset()
		return false
	}
	if out.TimeOut, ok = TimestampOptional(obj, "time_out"); !ok {
		out.Reset()
		return false
	}
	if out.Success, ok = BoolOptional(obj, "success"); !ok {
		out.Reset()
		return false
	}

	if out.Success != nil {
		if *out.Success {
			result, ok := ObjectRequired(obj, "result")
			if !ok {
				out.Reset()
				return false
			}
			if out.Warnings, ok = StringListOptional(result, "warnings"); !ok {
				out.Reset()
				return false
			}
		} else {
			errStr, ok := StringRequired(obj, "error")
			if !ok {
				out.Reset()
				return false
			}
			out.Error = errStr
		}
	}
	return true
}

// StatusUpdate decodes a status channel message. The data array carries
// exactly one object with the engine state and connection identity.
func StatusUpdate(obj map[string]json.RawMessage, out *schema.StatusUpdate) bool {
	out.Reset()

	data, ok := ArrayRequired(obj, "data")
	if !ok || len(data) == 0 {
		return false
	}
	item, ok := Object(data[0])
	if !ok {
		return false
	}

	system, ok := StringRequired(item, "system")
	if !ok {
		return false
	}
	out.System = schema.ParseSystemState(system)

	if out.APIVersion, ok = StringRequired(item, "api_version"); !ok {
		out.Reset()
		return false
	}
	if out.ConnectionID, ok = Uint64Required(item, "connection_id"); !ok {
		out.Reset()
		return false
	}
	if out.Version, ok = StringRequired(item, "version"); !ok {
		out.Reset()
		return false
	}
	return true
}

// RejectionNotice decodes a root-level error message without a method: the
// server's rejection of a client request.
func RejectionNotice(obj map[string]json.RawMessage, out *schema.RejectionNotice) bool {
	out.Reset()

	errStr, ok := StringRequired(obj, "error")
	if !ok {
		return false
	}
	out.Error = errStr

	if out.ReqID, ok = Uint64Optional(obj, "req_id"); !ok {
		out.Reset()
		return false
	}
	if out.Symbol, ok = SymbolOptional(obj, "symbol"); !ok {
		out.Reset()
		return false
	}
	if out.TimeIn, ok = TimestampOptional(obj, "time_in"); !ok {
		out.Reset()
		return false
	}
	if out.TimeOut, ok = TimestampOptional(obj, "time_out"); !ok {
		out.Reset()
		return false
	}
	return true
}

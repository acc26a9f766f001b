package parse

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// Field adapters enforce the domain shapes on top of the raw JSON helpers.

// SymbolRequired extracts a required BASE/QUOTE symbol.
func SymbolRequired(obj map[string]json.RawMessage, key string) (schema.Symbol, bool) {
	v, ok := StringRequired(obj, key)
	if !ok {
		return "", false
	}
	s := schema.Symbol(v)
	if !s.Valid() {
		return "", false
	}
	return s, true
}

// SymbolOptional extracts an optional BASE/QUOTE symbol; nil means absent.
func SymbolOptional(obj map[string]json.RawMessage, key string) (*schema.Symbol, bool) {
	if _, present := obj[key]; !present {
		return nil, true
	}
	s, ok := SymbolRequired(obj, key)
	if !ok {
		return nil, false
	}
	return &s, true
}

// TimestampRequired extracts a required RFC3339 timestamp with sub-second
// precision.
func TimestampRequired(obj map[string]json.RawMessage, key string) (time.Time, bool) {
	v, ok := StringRequired(obj, key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TimestampOptional extracts an optional RFC3339 timestamp; nil means absent.
func TimestampOptional(obj map[string]json.RawMessage, key string) (*time.Time, bool) {
	if _, present := obj[key]; !present {
		return nil, true
	}
	t, ok := TimestampRequired(obj, key)
	if !ok {
		return nil, false
	}
	return &t, true
}

// SideRequired extracts a required buy|sell field.
func SideRequired(obj map[string]json.RawMessage, key string) (schema.Side, bool) {
	v, ok := StringRequired(obj, key)
	if !ok {
		return schema.SideUnknown, false
	}
	return schema.ParseSide(v)
}

// OrderTypeOptional extracts an optional order type; OrderTypeUnknown means
// absent, a present value outside the enumerated set is failure.
func OrderTypeOptional(obj map[string]json.RawMessage, key string) (schema.OrderType, bool) {
	if _, present := obj[key]; !present {
		return schema.OrderTypeUnknown, true
	}
	v, ok := StringRequired(obj, key)
	if !ok {
		return schema.OrderTypeUnknown, false
	}
	return schema.ParseOrderType(v)
}

// PayloadTypeRequired extracts a required snapshot|update field.
func PayloadTypeRequired(obj map[string]json.RawMessage, key string) (schema.PayloadType, bool) {
	v, ok := StringRequired(obj, key)
	if !ok {
		return schema.PayloadUnknown, false
	}
	return schema.ParsePayloadType(v)
}

// DepthRequired extracts a required book depth and validates it against the
// accepted set.
func DepthRequired(obj map[string]json.RawMessage, key string) (uint32, bool) {
	v, ok := Uint64Required(obj, key)
	if !ok || !schema.ValidDepth(int(v)) {
		return 0, false
	}
	return uint32(v), true
}

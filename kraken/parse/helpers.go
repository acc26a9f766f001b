// Package parse holds the strictly validating decoders for inbound Kraken v2
// messages. Every parser resets its output on entry, validates required
// fields before optional ones, and reports failure without partial output;
// callers drop failed messages and log at debug level.
package parse

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Object decodes a message root into its fields. Fails unless the root is a
// JSON object.
func Object(raw []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func isString(raw json.RawMessage) bool {
	t := bytes.TrimLeft(raw, " \t\r\n")
	return len(t) > 0 && t[0] == '"'
}

func isNumber(raw json.RawMessage) bool {
	t := bytes.TrimLeft(raw, " \t\r\n")
	return len(t) > 0 && (t[0] == '-' || (t[0] >= '0' && t[0] <= '9'))
}

// StringRequired extracts a required string field.
func StringRequired(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, present := obj[key]
	if !present || !isString(raw) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// StringOptional extracts an optional string field. Absence is success with
// an empty value; presence with a non-string type is failure.
func StringOptional(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, present := obj[key]
	if !present {
		return "", true
	}
	if !isString(raw) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// BoolRequired extracts a required boolean field.
func BoolRequired(obj map[string]json.RawMessage, key string) (bool, bool) {
	raw, present := obj[key]
	if !present {
		return false, false
	}
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// BoolOptional extracts an optional boolean field; nil means absent.
func BoolOptional(obj map[string]json.RawMessage, key string) (*bool, bool) {
	if _, present := obj[key]; !present {
		return nil, true
	}
	v, ok := BoolRequired(obj, key)
	if !ok {
		return nil, false
	}
	return &v, true
}

// Uint64Required extracts a required non-negative integer field.
func Uint64Required(obj map[string]json.RawMessage, key string) (uint64, bool) {
	raw, present := obj[key]
	if !present || !isNumber(raw) {
		return 0, false
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// Uint64Optional extracts an optional non-negative integer field; nil means
// absent.
func Uint64Optional(obj map[string]json.RawMessage, key string) (*uint64, bool) {
	if _, present := obj[key]; !present {
		return nil, true
	}
	v, ok := Uint64Required(obj, key)
	if !ok {
		return nil, false
	}
	return &v, true
}

// DecimalRequired extracts a required JSON number field as a decimal. String
// encodings are rejected; the wire schema uses bare numbers for prices and
// quantities.
func DecimalRequired(obj map[string]json.RawMessage, key string) (decimal.Decimal, bool) {
	raw, present := obj[key]
	if !present || !isNumber(raw) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ObjectRequired extracts a required nested object field.
func ObjectRequired(obj map[string]json.RawMessage, key string) (map[string]json.RawMessage, bool) {
	raw, present := obj[key]
	if !present {
		return nil, false
	}
	return Object(raw)
}

// ArrayRequired extracts a required array field.
func ArrayRequired(obj map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	raw, present := obj[key]
	if !present {
		return nil, false
	}
	t := bytes.TrimLeft(raw, " \t\r\n")
	if len(t) == 0 || t[0] != '[' {
		return nil, false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, false
	}
	return arr, true
}

// ArrayOptional extracts an optional array field. Absence is success with a
// nil slice; presence with a non-array type is failure.
func ArrayOptional(obj map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	if _, present := obj[key]; !present {
		return nil, true
	}
	return ArrayRequired(obj, key)
}

// StringListOptional extracts an optional array-of-strings field. Absence is
// success with a nil slice; any non-string element is failure.
func StringListOptional(obj map[string]json.RawMessage, key string) ([]string, bool) {
	raw, present := obj[key]
	if !present {
		return nil, true
	}
	t := bytes.TrimLeft(raw, " \t\r\n")
	if len(t) == 0 || t[0] != '[' {
		return nil, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if !isString(e) {
			return nil, false
		}
		var s string
		if err := json.Unmarshal(e, &s); err != nil {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

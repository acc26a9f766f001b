package parse

import (
	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// bookSide decodes one side of a book entry: an array of {price, qty} levels.
// Shared by bids and asks. An update touching only one side omits the other
// key entirely, so an absent side is not an error; only a present
// non-array field is.
func bookSide(item map[string]json.RawMessage, key string) ([]schema.BookLevel, bool) {
	arr, ok := ArrayOptional(item, key)
	if !ok {
		return nil, false
	}
	levels := make([]schema.BookLevel, 0, len(arr))
	for _, elem := range arr {
		lvl, ok := Object(elem)
		if !ok {
			return nil, false
		}
		var bl schema.BookLevel
		if bl.Price, ok = DecimalRequired(lvl, "price"); !ok {
			return nil, false
		}
		if bl.Qty, ok = DecimalRequired(lvl, "qty"); !ok {
			return nil, false
		}
		levels = append(levels, bl)
	}
	return levels, true
}

// BookResponse decodes a book channel snapshot or update. Each entry carries
// symbol and checksum, optional bids and asks, and an optional timestamp
// (which the server sends on updates).
func BookResponse(obj map[string]json.RawMessage, out *schema.BookResponse) bool {
	out.Reset()

	typ, ok := PayloadTypeRequired(obj, "type")
	if !ok {
		return false
	}
	data, ok := ArrayRequired(obj, "data")
	if !ok || len(data) == 0 {
		return false
	}

	entries := make([]schema.BookEntry, 0, len(data))
	for _, elem := range data {
		item, ok := Object(elem)
		if !ok {
			out.Reset()
			return false
		}
		var be schema.BookEntry
		if be.Symbol, ok = SymbolRequired(item, "symbol"); !ok {
			out.Reset()
			return false
		}
		if be.Bids, ok = bookSide(item, "bids"); !ok {
			out.Reset()
			return false
		}
		if be.Asks, ok = bookSide(item, "asks"); !ok {
			out.Reset()
			return false
		}
		checksum, ok := Uint64Required(item, "checksum")
		if !ok {
			out.Reset()
			return false
		}
		be.Checksum = uint32(checksum)
		if be.Timestamp, ok = TimestampOptional(item, "timestamp"); !ok {
			out.Reset()
			return false
		}
		entries = append(entries, be)
	}

	out.Type = typ
	out.Entries = entries
	return true
}

package parse

import (
	json "github.com/goccy/go-json"

	"github.com/romanzzaa/krakenws/kraken/schema"
)

// TradeResponse decodes a trade channel snapshot or update. The data array
// must hold at least one trade; every trade must carry symbol, side, qty,
// price, trade_id and timestamp, with ord_type optional.
func TradeResponse(obj map[string]json.RawMessage, out *schema.TradeResponse) bool {
	out.Reset()

	typ, ok := PayloadTypeRequired(obj, "type")
	if !ok {
		return false
	}
	data, ok := ArrayRequired(obj, "data")
	if !ok || len(data) == 0 {
		return false
	}

	trades := make([]schema.Trade, 0, len(data))
	for _, elem := range data {
		item, ok := Object(elem)
		if !ok {
			out.Reset()
			return false
		}
		var tr schema.Trade
		if tr.Symbol, ok = SymbolRequired(item, "symbol"); !ok {
			out.Reset()
			return false
		}
		if tr.Side, ok = SideRequired(item, "side"); !ok {
			out.Reset()
			return false
		}
		if tr.Qty, ok = DecimalRequired(item, "qty"); !ok {
			out.Reset()
			return false
		}
		if tr.Price, ok = DecimalRequired(item, "price"); !ok {
			out.Reset()
			return false
		}
		if tr.TradeID, ok = Uint64Required(item, "trade_id"); !ok {
			out.Reset()
			return false
		}
		if tr.Timestamp, ok = TimestampRequired(item, "timestamp"); !ok {
			out.Reset()
			return false
		}
		if tr.OrdType, ok = OrderTypeOptional(item, "ord_type"); !ok {
			out.Reset()
			return false
		}
		trades = append(trades, tr)
	}

	out.Type = typ
	out.Trades = trades
	return true
}

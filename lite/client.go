// Package lite is the stable, beginner-facing facade over the protocol
// session: flat per-trade and per-book-level callbacks, no rings, no
// transport detail.
package lite

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/krakenws/kraken"
	"github.com/romanzzaa/krakenws/kraken/schema"
)

// Trade is the flattened per-trade value delivered to trade handlers.
type Trade struct {
	Symbol    string
	Side      string
	Qty       decimal.Decimal
	Price     decimal.Decimal
	TradeID   uint64
	Timestamp time.Time
}

// BookLevel is the flattened per-level value delivered to book handlers.
type BookLevel struct {
	Symbol   string
	Bid      bool // false means ask side
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Snapshot bool
}

// TradeHandler consumes one trade at a time.
type TradeHandler func(Trade)

// BookHandler consumes one book level at a time.
type BookHandler func(BookLevel)

// ErrorHandler consumes server rejections.
type ErrorHandler func(error)

// Config tunes a lite client.
type Config struct {
	Endpoint string // defaults to the public Kraken v2 endpoint
	Logger   *slog.Logger
}

// Client wraps a session behind a minimal lifecycle: Connect, Poll in a loop,
// Disconnect. Not safe for concurrent use; drive it from one goroutine.
type Client struct {
	session *kraken.Session
	onError ErrorHandler
	url     string
}

// New builds a disconnected client.
func New(cfg Config) *Client {
	c := &Client{
		session: kraken.NewSession(kraken.Config{Logger: cfg.Logger}),
		url:     cfg.Endpoint,
	}
	c.session.OnRejection(func(n *schema.RejectionNotice) {
		if c.onError != nil {
			c.onError(&RejectionError{Message: n.Error, ReqID: n.ReqID})
		}
	})
	return c
}

// RejectionError is a server-side rejection surfaced through OnError.
type RejectionError struct {
	Message string
	ReqID   *uint64
}

func (e *RejectionError) Error() string { return "krakenws: rejected: " + e.Message }

// OnError installs the rejection handler.
func (c *Client) OnError(h ErrorHandler) { c.onError = h }

// Connect dials the configured endpoint.
func (c *Client) Connect() error {
	return c.session.Connect(c.url)
}

// Disconnect ends the session.
func (c *Client) Disconnect() {
	c.session.Close()
}

// Poll processes pending messages and invokes handlers inline. Call it in a
// loop.
func (c *Client) Poll() {
	c.session.Poll()
}

// SubscribeTrades subscribes the symbols to the trade channel. snapshot
// requests the recent-trades snapshot on subscription.
func (c *Client) SubscribeTrades(symbols []string, h TradeHandler, snapshot bool) error {
	_, err := c.session.SubscribeTrades(schema.TradeSubscribe{
		Symbols:  toSymbols(symbols),
		Snapshot: &snapshot,
	}, func(resp *schema.TradeResponse) {
		for _, tr := range resp.Trades {
			h(Trade{
				Symbol:    tr.Symbol.String(),
				Side:      tr.Side.String(),
				Qty:       tr.Qty,
				Price:     tr.Price,
				TradeID:   tr.TradeID,
				Timestamp: tr.Timestamp,
			})
		}
	})
	return err
}

// UnsubscribeTrades removes the symbols from the trade channel.
func (c *Client) UnsubscribeTrades(symbols []string) error {
	_, err := c.session.UnsubscribeTrades(schema.TradeUnsubscribe{Symbols: toSymbols(symbols)})
	return err
}

// SubscribeBook subscribes the symbols to the book channel at the given
// depth (one of 10, 25, 100, 500, 1000).
func (c *Client) SubscribeBook(symbols []string, depth int, h BookHandler, snapshot bool) error {
	_, err := c.session.SubscribeBook(schema.BookSubscribe{
		Symbols:  toSymbols(symbols),
		Depth:    &depth,
		Snapshot: &snapshot,
	}, func(resp *schema.BookResponse) {
		isSnapshot := resp.Type == schema.PayloadSnapshot
		for _, entry := range resp.Entries {
			for _, lvl := range entry.Bids {
				h(BookLevel{Symbol: entry.Symbol.String(), Bid: true,
					Price: lvl.Price, Qty: lvl.Qty, Snapshot: isSnapshot})
			}
			for _, lvl := range entry.Asks {
				h(BookLevel{Symbol: entry.Symbol.String(), Bid: false,
					Price: lvl.Price, Qty: lvl.Qty, Snapshot: isSnapshot})
			}
		}
	})
	return err
}

// UnsubscribeBook removes the symbols from the book channel.
func (c *Client) UnsubscribeBook(symbols []string) error {
	_, err := c.session.UnsubscribeBook(schema.BookUnsubscribe{Symbols: toSymbols(symbols)})
	return err
}

func toSymbols(in []string) []schema.Symbol {
	out := make([]schema.Symbol, len(in))
	for i, s := range in {
		out[i] = schema.Symbol(s)
	}
	return out
}

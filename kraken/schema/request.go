package schema

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Every outgoing request carries exactly one intent, enforced through the
// marker interfaces below: a request type implements exactly one of the
// intent methods, and the session API accepts only the matching interface.

// Request is an encodable client request. Encode produces the compact wire
// JSON, omitting unset optional fields.
type Request interface {
	Encode() ([]byte, error)
}

// SubscribeRequest is the subscribe intent witness.
type SubscribeRequest interface {
	Request
	Channel() string
	SubscribeSymbols() []Symbol
	subscribeIntent()
}

// UnsubscribeRequest is the unsubscribe intent witness.
type UnsubscribeRequest interface {
	Request
	Channel() string
	UnsubscribeSymbols() []Symbol
	unsubscribeIntent()
}

// ControlRequest is the control intent witness (ping).
type ControlRequest interface {
	Request
	controlIntent()
}

// Local client-side encoding errors.
var (
	ErrNoSymbols = errors.New("schema: request needs at least one symbol")
	ErrZeroReqID = errors.New("schema: req_id zero is reserved as unset")
)

type envelope struct {
	Method string  `json:"method"`
	Params any     `json:"params,omitempty"`
	ReqID  *uint64 `json:"req_id,omitempty"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []Symbol `json:"symbol"`
	Snapshot *bool    `json:"snapshot,omitempty"`
	Depth    *int     `json:"depth,omitempty"`
	ReqID    *uint64  `json:"req_id,omitempty"`
}

func checkSymbols(symbols []Symbol) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}
	for _, s := range symbols {
		if !s.Valid() {
			return fmt.Errorf("schema: symbol %q is not BASE/QUOTE", s)
		}
	}
	return nil
}

func checkReqID(id *uint64) error {
	if id != nil && *id == 0 {
		return ErrZeroReqID
	}
	return nil
}

// TradeSubscribe subscribes symbols to the trade channel.
type TradeSubscribe struct {
	Symbols  []Symbol
	Snapshot *bool
	ReqID    *uint64
}

func (TradeSubscribe) subscribeIntent() {}
func (TradeSubscribe) Channel() string { return ChannelTrade }
func (r TradeSubscribe) SubscribeSymbols() []Symbol { return r.Symbols }

func (r TradeSubscribe) Encode() ([]byte, error) {
	if err := checkSymbols(r.Symbols); err != nil {
		return nil, err
	}
	if err := checkReqID(r.ReqID); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Method: MethodSubscribe,
		Params: subscribeParams{
			Channel:  ChannelTrade,
			Symbol:   r.Symbols,
			Snapshot: r.Snapshot,
			ReqID:    r.ReqID,
		},
	})
}

// TradeUnsubscribe removes symbols from the trade channel.
type TradeUnsubscribe struct {
	Symbols []Symbol
	ReqID   *uint64
}

func (TradeUnsubscribe) unsubscribeIntent() {}
func (TradeUnsubscribe) Channel() string                { return ChannelTrade }
func (r TradeUnsubscribe) UnsubscribeSymbols() []Symbol { return r.Symbols }

func (r TradeUnsubscribe) Encode() ([]byte, error) {
	if err := checkSymbols(r.Symbols); err != nil {
		return nil, err
	}
	if err := checkReqID(r.ReqID); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Method: MethodUnsubscribe,
		Params: subscribeParams{
			Channel: ChannelTrade,
			Symbol:  r.Symbols,
			ReqID:   r.ReqID,
		},
	})
}

// BookSubscribe subscribes symbols to the book channel at an optional depth.
type BookSubscribe struct {
	Symbols  []Symbol
	Depth    *int
	Snapshot *bool
	ReqID    *uint64
}

func (BookSubscribe) subscribeIntent() {}
func (BookSubscribe) Channel() string              { return ChannelBook }
func (r BookSubscribe) SubscribeSymbols() []Symbol { return r.Symbols }

func (r BookSubscribe) Encode() ([]byte, error) {
	if err := checkSymbols(r.Symbols); err != nil {
		return nil, err
	}
	if r.Depth != nil && !ValidDepth(*r.Depth) {
		return nil, ErrInvalidDepth
	}
	if err := checkReqID(r.ReqID); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Method: MethodSubscribe,
		Params: subscribeParams{
			Channel:  ChannelBook,
			Symbol:   r.Symbols,
			Snapshot: r.Snapshot,
			Depth:    r.Depth,
			ReqID:    r.ReqID,
		},
	})
}

// BookUnsubscribe removes symbols from the book channel. Depth is optional
// and snapshot is never sent on unsubscribe.
type BookUnsubscribe struct {
	Symbols []Symbol
	Depth   *int
	ReqID   *uint64
}

func (BookUnsubscribe) unsubscribeIntent() {}
func (BookUnsubscribe) Channel() string                { return ChannelBook }
func (r BookUnsubscribe) UnsubscribeSymbols() []Symbol { return r.Symbols }

func (r BookUnsubscribe) Encode() ([]byte, error) {
	if err := checkSymbols(r.Symbols); err != nil {
		return nil, err
	}
	if r.Depth != nil && !ValidDepth(*r.Depth) {
		return nil, ErrInvalidDepth
	}
	if err := checkReqID(r.ReqID); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Method: MethodUnsubscribe,
		Params: subscribeParams{
			Channel: ChannelBook,
			Symbol:  r.Symbols,
			Depth:   r.Depth,
			ReqID:   r.ReqID,
		},
	})
}

// Ping is the control-plane liveness request.
type Ping struct {
	ReqID *uint64
}

func (Ping) controlIntent() {}

func (r Ping) Encode() ([]byte, error) {
	if err := checkReqID(r.ReqID); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Method: MethodPing,
		ReqID:  r.ReqID,
	})
}

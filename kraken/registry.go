package kraken

import (
	"errors"
	"fmt"

	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/metrics"
)

// Local client errors surfaced synchronously from the session API.
var (
	ErrAlreadySubscribed = errors.New("kraken: symbol already subscribed or pending")
	ErrNotSubscribed     = errors.New("kraken: symbol not actively subscribed")
	ErrNilCallback       = errors.New("kraken: callback must not be nil")
	ErrNotConnected      = errors.New("kraken: session not connected")
	ErrSessionClosed     = errors.New("kraken: session closed")
	ErrSendFailed        = errors.New("kraken: transport send failed")
)

// SubState is the per-(channel, symbol) subscription state.
type SubState uint8

const (
	SubInactive SubState = iota // no registry entry exists in this state
	SubPendingSubscribe
	SubActive
	SubPendingUnsubscribe
)

func (s SubState) String() string {
	switch s {
	case SubInactive:
		return "Inactive"
	case SubPendingSubscribe:
		return "PendingSubscribe"
	case SubActive:
		return "Active"
	case SubPendingUnsubscribe:
		return "PendingUnsubscribe"
	default:
		return "Unknown"
	}
}

// subOptions remembers the request flags needed to rebuild a subscribe on
// replay.
type subOptions struct {
	snapshot *bool
	depth    *int // book channel only
}

// entry tracks one symbol's lifecycle. Entries are created lazily on the
// first subscribe and removed on an acknowledged unsubscribe. epoch stamps
// the connection generation the current req_id was issued under, so acks
// from a previous connection are recognizably stale.
type entry[CB any] struct {
	state    SubState
	reqID    uint64
	epoch    uint64
	callback CB
	opts     subOptions
}

// ackOutcome reports what onAck did with an acknowledgement.
type ackOutcome uint8

const (
	ackIgnored ackOutcome = iota // no matching entry, or stale epoch
	ackActivated
	ackRemoved
	ackReverted // failure rolled the entry back to its prior state
)

// registry holds the subscription state of one channel. Mutated exclusively
// on the polling goroutine.
type registry[CB any] struct {
	channel string
	entries map[schema.Symbol]*entry[CB]
}

func newRegistry[CB any](channel string) *registry[CB] {
	return &registry[CB]{
		channel: channel,
		entries: make(map[schema.Symbol]*entry[CB]),
	}
}

// issueSubscribe creates a pending entry for the symbol. The symbol must be
// inactive; a duplicate subscribe is rejected locally and never reaches the
// server.
func (r *registry[CB]) issueSubscribe(sym schema.Symbol, cb CB, reqID, epoch uint64, opts subOptions) error {
	if e, exists := r.entries[sym]; exists {
		return fmt.Errorf("%w: %s %s is %s", ErrAlreadySubscribed, r.channel, sym, e.state)
	}
	r.entries[sym] = &entry[CB]{
		state:    SubPendingSubscribe,
		reqID:    reqID,
		epoch:    epoch,
		callback: cb,
		opts:     opts,
	}
	r.updateGauges()
	return nil
}

// issueUnsubscribe moves an active symbol to pending-unsubscribe.
func (r *registry[CB]) issueUnsubscribe(sym schema.Symbol, reqID, epoch uint64) error {
	e, exists := r.entries[sym]
	if !exists || e.state != SubActive {
		return fmt.Errorf("%w: %s %s", ErrNotSubscribed, r.channel, sym)
	}
	e.state = SubPendingUnsubscribe
	e.reqID = reqID
	e.epoch = epoch
	r.updateGauges()
	return nil
}

// reissue stamps an active entry with a fresh req_id for replay after a
// reconnect, returning it to pending-subscribe under the new epoch.
func (r *registry[CB]) reissue(sym schema.Symbol, reqID, epoch uint64) {
	e, exists := r.entries[sym]
	if !exists {
		return
	}
	e.state = SubPendingSubscribe
	e.reqID = reqID
	e.epoch = epoch
	r.updateGauges()
}

// abandon removes an entry regardless of state (send failure rollback, or a
// pending request orphaned by a reconnect).
func (r *registry[CB]) abandon(sym schema.Symbol) {
	delete(r.entries, sym)
	r.updateGauges()
}

// onAck applies one acknowledgement. When symbol is non-nil the entry is
// matched by symbol and verified against reqID; otherwise every entry pending
// under reqID is resolved (failure acks may omit the symbol). Acks stamped
// with a previous epoch are ignored.
func (r *registry[CB]) onAck(reqID uint64, success bool, symbol *schema.Symbol, currentEpoch uint64) ackOutcome {
	if symbol != nil {
		e, exists := r.entries[*symbol]
		if !exists || e.reqID != reqID {
			return ackIgnored
		}
		return r.resolve(*symbol, e, success, currentEpoch)
	}

	outcome := ackIgnored
	for sym, e := range r.entries {
		if e.reqID != reqID {
			continue
		}
		if o := r.resolve(sym, e, success, currentEpoch); o != ackIgnored {
			outcome = o
		}
	}
	return outcome
}

func (r *registry[CB]) resolve(sym schema.Symbol, e *entry[CB], success bool, currentEpoch uint64) ackOutcome {
	if e.epoch != currentEpoch {
		return ackIgnored
	}
	defer r.updateGauges()

	switch e.state {
	case SubPendingSubscribe:
		if success {
			e.state = SubActive
			return ackActivated
		}
		// Prior state was inactive: drop the entry.
		delete(r.entries, sym)
		return ackReverted

	case SubPendingUnsubscribe:
		if success {
			delete(r.entries, sym)
			return ackRemoved
		}
		e.state = SubActive
		return ackReverted

	default:
		return ackIgnored
	}
}

// activePair couples a symbol with its installed callback for replay.
type activePair[CB any] struct {
	symbol   schema.Symbol
	callback CB
	opts     subOptions
}

// snapshotActive lists the acknowledged subscriptions in no particular order.
func (r *registry[CB]) snapshotActive() []activePair[CB] {
	out := make([]activePair[CB], 0, len(r.entries))
	for sym, e := range r.entries {
		if e.state == SubActive {
			out = append(out, activePair[CB]{symbol: sym, callback: e.callback, opts: e.opts})
		}
	}
	return out
}

// stalePending lists entries still pending under an epoch older than current;
// their acks can never arrive.
func (r *registry[CB]) stalePending(currentEpoch uint64) []schema.Symbol {
	var out []schema.Symbol
	for sym, e := range r.entries {
		if e.epoch < currentEpoch &&
			(e.state == SubPendingSubscribe || e.state == SubPendingUnsubscribe) {
			out = append(out, sym)
		}
	}
	return out
}

// lookup returns the callback installed for an active symbol.
func (r *registry[CB]) lookup(sym schema.Symbol) (CB, bool) {
	var zero CB
	e, exists := r.entries[sym]
	if !exists || e.state != SubActive {
		return zero, false
	}
	return e.callback, true
}

func (r *registry[CB]) activeSymbols() []schema.Symbol {
	var out []schema.Symbol
	for sym, e := range r.entries {
		if e.state == SubActive {
			out = append(out, sym)
		}
	}
	return out
}

func (r *registry[CB]) pendingRequests() []uint64 {
	var out []uint64
	for _, e := range r.entries {
		if e.state == SubPendingSubscribe || e.state == SubPendingUnsubscribe {
			out = append(out, e.reqID)
		}
	}
	return out
}

// hasPendingReq reports whether any entry still waits on the given req_id.
func (r *registry[CB]) hasPendingReq(reqID uint64) bool {
	for _, e := range r.entries {
		if e.reqID != reqID {
			continue
		}
		if e.state == SubPendingSubscribe || e.state == SubPendingUnsubscribe {
			return true
		}
	}
	return false
}

func (r *registry[CB]) hasPending() bool {
	for _, e := range r.entries {
		if e.state == SubPendingSubscribe || e.state == SubPendingUnsubscribe {
			return true
		}
	}
	return false
}

func (r *registry[CB]) hasActive() bool {
	for _, e := range r.entries {
		if e.state == SubActive {
			return true
		}
	}
	return false
}

func (r *registry[CB]) updateGauges() {
	active, pending := 0, 0
	for _, e := range r.entries {
		switch e.state {
		case SubActive:
			active++
		case SubPendingSubscribe, SubPendingUnsubscribe:
			pending++
		}
	}
	metrics.ActiveSubscriptions.WithLabelValues(r.channel).Set(float64(active))
	metrics.PendingRequests.WithLabelValues(r.channel).Set(float64(pending))
}

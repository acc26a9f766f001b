package kraken

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/metrics"
	"github.com/romanzzaa/krakenws/transport"
)

// DefaultURL is the Kraken v2 public WebSocket endpoint.
const DefaultURL = "wss://ws.kraken.com/v2"

// DefaultPollBudget caps the messages drained per ring per Poll call so one
// busy channel cannot starve the others.
const DefaultPollBudget = 128

// Handlers invoked on the polling goroutine. They must not panic; panics are
// recovered at the dispatch boundary and logged.
type (
	TradeHandler     func(*schema.TradeResponse)
	BookHandler      func(*schema.BookResponse)
	PongHandler      func(*schema.Pong)
	StatusHandler    func(*schema.StatusUpdate)
	RejectionHandler func(*schema.RejectionNotice)
)

// Config tunes a Session.
type Config struct {
	Connection transport.ConnectionConfig

	TradeRingCapacity     int
	BookRingCapacity      int
	AckRingCapacity       int
	RejectionRingCapacity int

	// PollBudget is the fairness cap per ring per Poll call.
	PollBudget int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TradeRingCapacity <= 0 {
		c.TradeRingCapacity = DefaultTradeRingCapacity
	}
	if c.BookRingCapacity <= 0 {
		c.BookRingCapacity = DefaultBookRingCapacity
	}
	if c.AckRingCapacity <= 0 {
		c.AckRingCapacity = DefaultAckRingCapacity
	}
	if c.RejectionRingCapacity <= 0 {
		c.RejectionRingCapacity = DefaultRejectionRingCapacity
	}
	if c.PollBudget <= 0 {
		c.PollBudget = DefaultPollBudget
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is the protocol session over one Kraken v2 connection. It owns the
// transport connection, the per-channel subscription registries and the
// message rings.
//
// All methods belong to a single polling goroutine. The only concurrent
// actor is the internal transport receive goroutine, which communicates
// exclusively through the SPSC rings and a handful of atomics.
type Session struct {
	cfg    Config
	logger *slog.Logger

	conn    *transport.Connection
	rings   *msgRings
	pending sync.Map // req_id -> pendingRoute

	trades *registry[TradeHandler]
	books  *registry[BookHandler]

	reqCounter uint64
	epoch      uint64
	closed     bool

	onPong      PongHandler
	onStatus    StatusHandler
	onRejection RejectionHandler
}

// NewSession builds a disconnected session.
func NewSession(cfg Config) *Session {
	cfg.applyDefaults()

	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "kraken.session"),
		rings: newMsgRings(cfg.TradeRingCapacity, cfg.BookRingCapacity,
			cfg.AckRingCapacity, cfg.RejectionRingCapacity),
		trades: newRegistry[TradeHandler](schema.ChannelTrade),
		books:  newRegistry[BookHandler](schema.ChannelBook),
	}

	connCfg := cfg.Connection
	if connCfg.Logger == nil {
		connCfg.Logger = cfg.Logger
	}
	s.conn = transport.NewConnection(connCfg)

	rt := newRouter(s.rings, &s.pending, cfg.Logger)
	s.conn.SetMessageHandler(rt.Route)
	return s
}

// OnPong installs the pong handler.
func (s *Session) OnPong(h PongHandler) { s.onPong = h }

// OnStatus installs the status handler.
func (s *Session) OnStatus(h StatusHandler) { s.onStatus = h }

// OnRejection installs the handler for server rejections, including failed
// subscribe and unsubscribe acks.
func (s *Session) OnRejection(h RejectionHandler) { s.onRejection = h }

// Connect dials the endpoint synchronously. An empty URL selects DefaultURL.
func (s *Session) Connect(url string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if url == "" {
		url = DefaultURL
	}
	if err := s.conn.Open(url); err != nil {
		return fmt.Errorf("kraken: connect: %w", err)
	}
	// Consume the queued Connected transition so the epoch is stamped before
	// the first subscribe.
	s.drainTransitions()
	return nil
}

// Close ends the session. The transport stops retrying and subsequent API
// calls fail with ErrSessionClosed.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
	s.logger.Info("session closed")
}

// SubscribeTrades issues a trade subscription for the request's symbols and
// installs the handler. Every symbol must currently be inactive; duplicates
// are rejected locally without touching the network. Returns the allocated
// req_id.
func (s *Session) SubscribeTrades(req schema.TradeSubscribe, h TradeHandler) (uint64, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if h == nil {
		return 0, ErrNilCallback
	}
	if err := checkNewSymbols(s.trades, req.Symbols); err != nil {
		return 0, err
	}

	reqID := s.nextReqID()
	req.ReqID = &reqID
	payload, err := req.Encode()
	if err != nil {
		return 0, err
	}

	opts := subOptions{snapshot: req.Snapshot}
	for _, sym := range req.Symbols {
		if err := s.trades.issueSubscribe(sym, h, reqID, s.epoch, opts); err != nil {
			return 0, err
		}
	}
	s.pending.Store(reqID, pendingRoute{channel: schema.ChannelTrade})

	if !s.conn.Send(payload) {
		rollbackSubscribe(s, s.trades, req.Symbols, reqID)
		return 0, ErrSendFailed
	}
	return reqID, nil
}

// UnsubscribeTrades issues a trade unsubscription. Every symbol must be
// active.
func (s *Session) UnsubscribeTrades(req schema.TradeUnsubscribe) (uint64, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if err := checkActiveSymbols(s.trades, req.Symbols); err != nil {
		return 0, err
	}

	reqID := s.nextReqID()
	req.ReqID = &reqID
	payload, err := req.Encode()
	if err != nil {
		return 0, err
	}

	for _, sym := range req.Symbols {
		if err := s.trades.issueUnsubscribe(sym, reqID, s.epoch); err != nil {
			return 0, err
		}
	}
	s.pending.Store(reqID, pendingRoute{channel: schema.ChannelTrade})

	if !s.conn.Send(payload) {
		rollbackUnsubscribe(s, s.trades, req.Symbols, reqID)
		return 0, ErrSendFailed
	}
	return reqID, nil
}

// SubscribeBook issues a book subscription for the request's symbols and
// installs the handler.
func (s *Session) SubscribeBook(req schema.BookSubscribe, h BookHandler) (uint64, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if h == nil {
		return 0, ErrNilCallback
	}
	if err := checkNewSymbols(s.books, req.Symbols); err != nil {
		return 0, err
	}

	reqID := s.nextReqID()
	req.ReqID = &reqID
	payload, err := req.Encode()
	if err != nil {
		return 0, err
	}

	opts := subOptions{snapshot: req.Snapshot, depth: req.Depth}
	for _, sym := range req.Symbols {
		if err := s.books.issueSubscribe(sym, h, reqID, s.epoch, opts); err != nil {
			return 0, err
		}
	}
	s.pending.Store(reqID, pendingRoute{channel: schema.ChannelBook})

	if !s.conn.Send(payload) {
		rollbackSubscribe(s, s.books, req.Symbols, reqID)
		return 0, ErrSendFailed
	}
	return reqID, nil
}

// UnsubscribeBook issues a book unsubscription.
func (s *Session) UnsubscribeBook(req schema.BookUnsubscribe) (uint64, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if err := checkActiveSymbols(s.books, req.Symbols); err != nil {
		return 0, err
	}

	reqID := s.nextReqID()
	req.ReqID = &reqID
	payload, err := req.Encode()
	if err != nil {
		return 0, err
	}

	for _, sym := range req.Symbols {
		if err := s.books.issueUnsubscribe(sym, reqID, s.epoch); err != nil {
			return 0, err
		}
	}
	s.pending.Store(reqID, pendingRoute{channel: schema.ChannelBook})

	if !s.conn.Send(payload) {
		rollbackUnsubscribe(s, s.books, req.Symbols, reqID)
		return 0, ErrSendFailed
	}
	return reqID, nil
}

// Ping sends a control-plane ping. A nil reqID allocates one; the allocated
// or provided id is returned.
func (s *Session) Ping(reqID *uint64) (uint64, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if reqID == nil {
		id := s.nextReqID()
		reqID = &id
	}
	payload, err := schema.Ping{ReqID: reqID}.Encode()
	if err != nil {
		return 0, err
	}
	if !s.conn.Send(payload) {
		return 0, ErrSendFailed
	}
	return *reqID, nil
}

// Poll advances the connection state machine and drains every ring once,
// invoking user callbacks inline. It never blocks and does a bounded amount
// of work per call.
func (s *Session) Poll() {
	if s.closed {
		return
	}
	s.conn.Poll()
	s.drainTransitions()

	if s.rings.controlFull.Swap(false) {
		s.logger.Error("control-plane ring overflow, forcing reconnect")
		s.conn.ForceReconnect(transport.ErrTransportFailure)
	}

	s.drainAcks()
	s.drainData()
	s.drainRejections()
	s.drainSlots()
}

// ConnState exposes the transport FSM state.
func (s *Session) ConnState() transport.ConnState { return s.conn.State() }

// Epoch returns the connection generation, incremented on every successful
// (re)connect.
func (s *Session) Epoch() uint64 { return s.epoch }

// HeartbeatTotal returns the monotonic heartbeat counter.
func (s *Session) HeartbeatTotal() uint64 { return s.rings.heartbeatTotal.Load() }

// LastHeartbeat returns the arrival time of the most recent heartbeat, or the
// zero time before the first one.
func (s *Session) LastHeartbeat() time.Time {
	ns := s.rings.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ActiveSymbols lists the acknowledged subscriptions of a channel.
func (s *Session) ActiveSymbols(channel string) []schema.Symbol {
	switch channel {
	case schema.ChannelTrade:
		return s.trades.activeSymbols()
	case schema.ChannelBook:
		return s.books.activeSymbols()
	default:
		return nil
	}
}

// PendingRequests lists the unacknowledged req_ids of a channel.
func (s *Session) PendingRequests(channel string) []uint64 {
	switch channel {
	case schema.ChannelTrade:
		return s.trades.pendingRequests()
	case schema.ChannelBook:
		return s.books.pendingRequests()
	default:
		return nil
	}
}

// HasPending reports whether a channel has unacknowledged requests.
func (s *Session) HasPending(channel string) bool {
	switch channel {
	case schema.ChannelTrade:
		return s.trades.hasPending()
	case schema.ChannelBook:
		return s.books.hasPending()
	default:
		return false
	}
}

// HasActive reports whether a channel has acknowledged subscriptions.
func (s *Session) HasActive(channel string) bool {
	switch channel {
	case schema.ChannelTrade:
		return s.trades.hasActive()
	case schema.ChannelBook:
		return s.books.hasActive()
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func (s *Session) checkUsable() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.conn.State() != transport.StateConnected {
		return ErrNotConnected
	}
	return nil
}

// nextReqID allocates monotonically; ids are never reused within a session.
func (s *Session) nextReqID() uint64 {
	s.reqCounter++
	return s.reqCounter
}

func checkNewSymbols[CB any](r *registry[CB], symbols []schema.Symbol) error {
	if len(symbols) == 0 {
		return schema.ErrNoSymbols
	}
	seen := make(map[schema.Symbol]struct{}, len(symbols))
	for _, sym := range symbols {
		if _, dup := seen[sym]; dup {
			return fmt.Errorf("%w: %s repeated in request", ErrAlreadySubscribed, sym)
		}
		seen[sym] = struct{}{}
		if e, exists := r.entries[sym]; exists {
			return fmt.Errorf("%w: %s %s is %s", ErrAlreadySubscribed, r.channel, sym, e.state)
		}
	}
	return nil
}

func checkActiveSymbols[CB any](r *registry[CB], symbols []schema.Symbol) error {
	if len(symbols) == 0 {
		return schema.ErrNoSymbols
	}
	for _, sym := range symbols {
		e, exists := r.entries[sym]
		if !exists || e.state != SubActive {
			return fmt.Errorf("%w: %s %s", ErrNotSubscribed, r.channel, sym)
		}
	}
	return nil
}

func rollbackSubscribe[CB any](s *Session, r *registry[CB], symbols []schema.Symbol, reqID uint64) {
	for _, sym := range symbols {
		r.abandon(sym)
	}
	s.pending.Delete(reqID)
}

func rollbackUnsubscribe[CB any](s *Session, r *registry[CB], symbols []schema.Symbol, reqID uint64) {
	for _, sym := range symbols {
		if e, exists := r.entries[sym]; exists {
			e.state = SubActive
		}
	}
	r.updateGauges()
	s.pending.Delete(reqID)
}

func (s *Session) drainTransitions() {
	for {
		ev, ok := s.conn.PollEvent()
		if !ok {
			return
		}
		switch ev {
		case transport.TransitionConnected:
			s.epoch++
			s.logger.Info("connected", "epoch", s.epoch)
			if s.epoch > 1 {
				metrics.ReconnectsTotal.Inc()
				s.replay()
			}
		case transport.TransitionRetryScheduled:
			reason := s.conn.LastError().String()
			metrics.RetriesScheduledTotal.WithLabelValues(reason).Inc()
			s.logger.Warn("retry scheduled", "reason", reason, "attempt", s.conn.Attempt())
		case transport.TransitionLivenessThreatened:
			s.logger.Warn("liveness threatened")
		case transport.TransitionDisconnected:
			s.logger.Info("disconnected")
		}
	}
}

// replay re-issues every active subscription under the new epoch with fresh
// req_ids, and abandons pending requests whose acks died with the previous
// connection.
func (s *Session) replay() {
	for _, sym := range s.trades.stalePending(s.epoch) {
		s.logger.Debug("abandoning stale pending request", "channel", schema.ChannelTrade, "symbol", sym)
		s.dropPendingRoute(s.trades.entries[sym].reqID)
		s.trades.abandon(sym)
	}
	for _, sym := range s.books.stalePending(s.epoch) {
		s.logger.Debug("abandoning stale pending request", "channel", schema.ChannelBook, "symbol", sym)
		s.dropPendingRoute(s.books.entries[sym].reqID)
		s.books.abandon(sym)
	}

	for _, p := range s.trades.snapshotActive() {
		reqID := s.nextReqID()
		s.trades.reissue(p.symbol, reqID, s.epoch)
		s.pending.Store(reqID, pendingRoute{channel: schema.ChannelTrade})
		req := schema.TradeSubscribe{
			Symbols:  []schema.Symbol{p.symbol},
			Snapshot: p.opts.snapshot,
			ReqID:    &reqID,
		}
		s.sendReplay(req, schema.ChannelTrade, p.symbol)
	}
	for _, p := range s.books.snapshotActive() {
		reqID := s.nextReqID()
		s.books.reissue(p.symbol, reqID, s.epoch)
		s.pending.Store(reqID, pendingRoute{channel: schema.ChannelBook})
		req := schema.BookSubscribe{
			Symbols:  []schema.Symbol{p.symbol},
			Snapshot: p.opts.snapshot,
			Depth:    p.opts.depth,
			ReqID:    &reqID,
		}
		s.sendReplay(req, schema.ChannelBook, p.symbol)
	}
}

func (s *Session) sendReplay(req schema.Request, channel string, sym schema.Symbol) {
	payload, err := req.Encode()
	if err != nil {
		s.logger.Error("replay encode failed", "channel", channel, "symbol", sym, "err", err)
		return
	}
	if !s.conn.Send(payload) {
		// The send failure will surface as a transport event; the entry stays
		// pending under the current epoch, so the next replay abandons it as
		// stale instead of re-issuing it.
		s.logger.Warn("replay send failed", "channel", channel, "symbol", sym)
		return
	}
	s.logger.Info("subscription replayed", "channel", channel, "symbol", sym)
}

// dropPendingRoute removes the req_id routing hint once no registry still
// waits on it.
func (s *Session) dropPendingRoute(reqID uint64) {
	s.pending.Delete(reqID)
}

func (s *Session) drainAcks() {
	budget := s.cfg.PollBudget

	for i := 0; i < budget; i++ {
		ack, ok := s.rings.tradeSub.TryPop()
		if !ok {
			break
		}
		applyAck(s, s.trades, ack.Ack)
	}
	for i := 0; i < budget; i++ {
		ack, ok := s.rings.tradeUnsub.TryPop()
		if !ok {
			break
		}
		applyAck(s, s.trades, ack.Ack)
	}
	for i := 0; i < budget; i++ {
		ack, ok := s.rings.bookSub.TryPop()
		if !ok {
			break
		}
		applyAck(s, s.books, ack.Ack)
	}
	for i := 0; i < budget; i++ {
		ack, ok := s.rings.bookUnsub.TryPop()
		if !ok {
			break
		}
		applyAck(s, s.books, ack.Ack)
	}
}

func applyAck[CB any](s *Session, r *registry[CB], ack schema.Ack) {
	if ack.ReqID == nil {
		// The session always sends a req_id, so an ack without one cannot be
		// correlated.
		s.logger.Debug("ack without req_id dropped", "channel", r.channel)
		return
	}
	var sym *schema.Symbol
	if ack.Success {
		sym = &ack.Symbol
	}
	outcome := r.onAck(*ack.ReqID, ack.Success, sym, s.epoch)
	if outcome == ackIgnored {
		s.logger.Debug("stale or unmatched ack", "channel", r.channel, "req_id", *ack.ReqID)
		return
	}
	if !r.hasPendingReq(*ack.ReqID) {
		s.pending.Delete(*ack.ReqID)
	}
	if !ack.Success {
		s.dispatchRejection(&schema.RejectionNotice{
			Error:   ack.Error,
			ReqID:   ack.ReqID,
			TimeIn:  ack.TimeIn,
			TimeOut: ack.TimeOut,
		})
	}
}

func (s *Session) drainData() {
	budget := s.cfg.PollBudget

	for i := 0; i < budget; i++ {
		resp, ok := s.rings.trade.TryPop()
		if !ok {
			break
		}
		if len(resp.Trades) == 0 {
			continue
		}
		if cb, ok := s.trades.lookup(resp.Trades[0].Symbol); ok {
			s.invokeTrade(cb, &resp)
		}
	}
	for i := 0; i < budget; i++ {
		resp, ok := s.rings.book.TryPop()
		if !ok {
			break
		}
		if len(resp.Entries) == 0 {
			continue
		}
		if cb, ok := s.books.lookup(resp.Entries[0].Symbol); ok {
			s.invokeBook(cb, &resp)
		}
	}
}

func (s *Session) drainRejections() {
	for i := 0; i < s.cfg.PollBudget; i++ {
		notice, ok := s.rings.rejection.TryPop()
		if !ok {
			return
		}
		if notice.ReqID != nil {
			// A rejection correlated to a pending request resolves it back to
			// its prior state.
			s.trades.onAck(*notice.ReqID, false, nil, s.epoch)
			s.books.onAck(*notice.ReqID, false, nil, s.epoch)
			if !s.trades.hasPendingReq(*notice.ReqID) && !s.books.hasPendingReq(*notice.ReqID) {
				s.pending.Delete(*notice.ReqID)
			}
		}
		s.dispatchRejection(&notice)
	}
}

func (s *Session) drainSlots() {
	if pong := s.rings.pongSlot.Swap(nil); pong != nil && s.onPong != nil {
		s.invoke(func() { s.onPong(pong) }, "pong")
	}
	if status := s.rings.statusSlot.Swap(nil); status != nil && s.onStatus != nil {
		s.invoke(func() { s.onStatus(status) }, "status")
	}
}

func (s *Session) dispatchRejection(notice *schema.RejectionNotice) {
	if s.onRejection == nil {
		s.logger.Warn("request rejected", "error", notice.Error)
		return
	}
	s.invoke(func() { s.onRejection(notice) }, "rejection")
}

func (s *Session) invokeTrade(cb TradeHandler, resp *schema.TradeResponse) {
	s.invoke(func() { cb(resp) }, "trade")
}

func (s *Session) invokeBook(cb BookHandler, resp *schema.BookResponse) {
	s.invoke(func() { cb(resp) }, "book")
}

// invoke runs a user callback, containing panics at the dispatch boundary.
func (s *Session) invoke(fn func(), kind string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("user callback panicked", "kind", kind, "panic", rec)
		}
	}()
	fn()
}

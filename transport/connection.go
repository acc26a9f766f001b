package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/romanzzaa/krakenws/control"
	"github.com/romanzzaa/krakenws/metrics"
	"github.com/romanzzaa/krakenws/ring"
)

// ConnState is the connection finite-state machine state.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateRetrying:
		return "Retrying"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	// Reconnect backoff curve: bounded exponential with jitter.
	defaultBackoffInitial = 250 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
	defaultBackoffJitter  = 0.2

	defaultLivenessTimeout        = 30 * time.Second
	defaultLivenessWarningPercent = 0.8

	defaultTransitionRingCapacity = 16
)

// ConnectionConfig tunes the connection FSM wrapping a WebSocket.
type ConnectionConfig struct {
	WebSocket WebSocketConfig

	// Liveness: while Connected, elapsed idle time past
	// WarningPercent*Timeout emits LivenessThreatened once per connection
	// cycle; past Timeout the connection is forced into retry. Zero selects
	// the default; a negative Timeout disables liveness checks.
	LivenessTimeout        time.Duration
	LivenessWarningPercent float64

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64

	// EscalationThreshold is the number of consecutive polls with
	// back-pressure active that forces a reconnect. Must exceed the
	// detector's deactivation threshold so recovery stays reachable.
	EscalationThreshold uint32

	TransitionRingCapacity int

	// Clock is a test hook; nil means time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

func (c *ConnectionConfig) applyDefaults() {
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = defaultLivenessTimeout
	}
	if c.LivenessWarningPercent <= 0 || c.LivenessWarningPercent >= 1 {
		c.LivenessWarningPercent = defaultLivenessWarningPercent
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.BackoffJitter <= 0 {
		c.BackoffJitter = defaultBackoffJitter
	}
	if c.EscalationThreshold == 0 {
		c.EscalationThreshold = control.StrictEscalationThreshold
	}
	if c.TransitionRingCapacity <= 0 {
		c.TransitionRingCapacity = defaultTransitionRingCapacity
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Connection drives a WebSocket through connect, retry and close cycles. All
// methods run on the owner's polling goroutine; the WebSocket's receive
// goroutine communicates exclusively through the lossless control-event ring.
type Connection struct {
	cfg    ConnectionConfig
	logger *slog.Logger
	now    func() time.Time

	url   string
	state ConnState
	ws    *WebSocket

	bo          *backoff.ExponentialBackOff
	attempt     int
	nextRetryAt time.Time

	livenessWarned bool
	bpActive       bool
	bpPolls        uint32
	lastErr        ErrorKind

	events *ring.SPSC[TransitionEvent]

	onMessage MessageHandler
}

// NewConnection builds a closed connection; call Open to start it.
func NewConnection(cfg ConnectionConfig) *Connection {
	cfg.applyDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffInitial
	bo.MaxInterval = cfg.BackoffMax
	bo.RandomizationFactor = cfg.BackoffJitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry forever until Close

	return &Connection{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport.connection"),
		now:    cfg.Clock,
		state:  StateDisconnected,
		bo:     bo,
		events: ring.MustSPSC[TransitionEvent](cfg.TransitionRingCapacity),
	}
}

// SetMessageHandler installs the receive-goroutine message callback forwarded
// to every WebSocket instance across reconnects. Must be called before Open.
func (c *Connection) SetMessageHandler(h MessageHandler) { c.onMessage = h }

// Open dials the endpoint synchronously. A failed first attempt schedules a
// retry rather than failing permanently; the returned error reports the
// immediate outcome.
func (c *Connection) Open(endpoint string) error {
	if c.state != StateDisconnected {
		return fmt.Errorf("transport: open in state %s", c.state)
	}
	c.url = endpoint
	c.state = StateConnecting
	return c.dial()
}

func (c *Connection) dial() error {
	ws := NewWebSocket(c.cfg.WebSocket)
	if c.onMessage != nil {
		ws.SetMessageHandler(c.onMessage)
	}
	if err := ws.Connect(c.url); err != nil {
		c.logger.Warn("connect attempt failed", "attempt", c.attempt+1, "err", err)
		c.scheduleRetry(ErrConnectionFailed)
		return err
	}

	c.ws = ws
	c.state = StateConnected
	c.attempt = 0
	c.bo.Reset()
	c.livenessWarned = false
	c.bpActive = false
	c.bpPolls = 0
	c.lastErr = ErrNone
	c.emit(TransitionConnected)
	return nil
}

// Poll advances the state machine: drains transport control events, evaluates
// liveness and back-pressure escalation, and fires due retry attempts. It
// never blocks.
func (c *Connection) Poll() {
	switch c.state {
	case StateConnected:
		c.pollConnected()
	case StateRetrying:
		if !c.now().Before(c.nextRetryAt) {
			c.state = StateConnecting
			_ = c.dial()
		}
	}
}

func (c *Connection) pollConnected() {
	for {
		ev, ok := c.ws.PollEvent()
		if !ok {
			break
		}
		switch ev.Type {
		case EventError:
			if ev.Err.Recoverable() {
				c.teardown()
				c.scheduleRetry(ev.Err)
				return
			}
		case EventClose:
			// Local shutdown never reaches here: Close flips the state to
			// Closed before the event is drained.
			c.teardown()
			c.scheduleRetry(ErrRemoteClosed)
			return
		case EventBackpressureDetected:
			c.bpActive = true
			c.bpPolls = 0
			metrics.BackpressureEventsTotal.WithLabelValues("detected").Inc()
		case EventBackpressureCleared:
			c.bpActive = false
			c.bpPolls = 0
			metrics.BackpressureEventsTotal.WithLabelValues("cleared").Inc()
		}
	}

	if c.ws.Fatal() {
		c.logger.Error("control-plane ring overflow, forcing reconnect")
		c.teardown()
		c.scheduleRetry(ErrTransportFailure)
		return
	}

	if c.bpActive {
		c.bpPolls++
		if c.bpPolls >= c.cfg.EscalationThreshold {
			c.logger.Warn("sustained backpressure, forcing reconnect",
				"polls", c.bpPolls)
			c.teardown()
			c.scheduleRetry(ErrTimeout)
			return
		}
	}

	if c.cfg.LivenessTimeout > 0 {
		idle := c.now().Sub(c.ws.LastActivity())
		warnAt := time.Duration(float64(c.cfg.LivenessTimeout) * c.cfg.LivenessWarningPercent)
		if idle >= c.cfg.LivenessTimeout {
			c.logger.Warn("liveness timeout", "idle", idle)
			c.teardown()
			c.scheduleRetry(ErrTimeout)
			return
		}
		if idle >= warnAt && !c.livenessWarned {
			c.livenessWarned = true
			c.logger.Warn("liveness threatened", "idle", idle)
			c.emit(TransitionLivenessThreatened)
		}
	}
}

func (c *Connection) teardown() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Connection) scheduleRetry(kind ErrorKind) {
	if c.state == StateClosed {
		return
	}
	c.lastErr = kind
	c.attempt++
	delay := c.bo.NextBackOff()
	c.nextRetryAt = c.now().Add(delay)
	c.state = StateRetrying
	c.logger.Info("retry scheduled",
		"reason", kind, "attempt", c.attempt, "delay", delay)
	c.emit(TransitionRetryScheduled)
}

// ForceReconnect tears the current transport down and schedules a retry.
// Used by the session layer for fatal conditions it detects itself, such as
// a full control-plane ring.
func (c *Connection) ForceReconnect(kind ErrorKind) {
	if c.state != StateConnected {
		return
	}
	c.teardown()
	c.scheduleRetry(kind)
}

// Close moves the FSM to its terminal state. No further automatic retries.
func (c *Connection) Close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.lastErr = ErrLocalShutdown
	c.teardown()
	c.emit(TransitionDisconnected)
	c.logger.Info("closed")
}

// Send writes one message while Connected.
func (c *Connection) Send(payload []byte) bool {
	if c.state != StateConnected || c.ws == nil {
		return false
	}
	return c.ws.Send(payload)
}

// PeekMessage exposes the oldest committed message (block-ring mode only).
func (c *Connection) PeekMessage() ([]byte, bool) {
	if c.ws == nil {
		return nil, false
	}
	return c.ws.PeekMessage()
}

// ReleaseMessage recycles the last peeked block.
func (c *Connection) ReleaseMessage() {
	if c.ws != nil {
		c.ws.ReleaseMessage()
	}
}

// PollEvent drains one observable transition event. Best effort: the oldest
// event is dropped on overflow.
func (c *Connection) PollEvent() (TransitionEvent, bool) {
	return c.events.TryPop()
}

// State returns the current FSM state.
func (c *Connection) State() ConnState { return c.state }

// LastError returns the error that caused the most recent retry or close.
func (c *Connection) LastError() ErrorKind { return c.lastErr }

// Attempt returns the current retry attempt number, zero while healthy.
func (c *Connection) Attempt() int { return c.attempt }

func (c *Connection) emit(ev TransitionEvent) {
	if !c.events.TryPush(ev) {
		c.events.TryPop() // drop the oldest; observability is best effort
		c.events.TryPush(ev)
	}
}

package transport

import (
	"errors"
	"net"

	"github.com/gorilla/websocket"
)

// ErrorKind classifies transport failures independently of the underlying
// library's error values. Higher layers use the classification to decide
// whether and how to recover.
type ErrorKind uint8

const (
	ErrNone ErrorKind = iota

	// Expected / benign termination.
	ErrLocalShutdown // closed intentionally by us
	ErrRemoteClosed  // peer sent a close frame

	// Transient, recoverable by reconnecting.
	ErrTimeout          // idle or stalled transport
	ErrConnectionFailed // DNS, TCP or TLS handshake failure

	// Framing or protocol violation.
	ErrProtocolError

	// Unclassified fatal transport failure.
	ErrTransportFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "None"
	case ErrLocalShutdown:
		return "LocalShutdown"
	case ErrRemoteClosed:
		return "RemoteClosed"
	case ErrTimeout:
		return "Timeout"
	case ErrConnectionFailed:
		return "ConnectionFailed"
	case ErrProtocolError:
		return "ProtocolError"
	case ErrTransportFailure:
		return "TransportFailure"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether a reconnect attempt makes sense for this kind.
func (k ErrorKind) Recoverable() bool {
	return k != ErrNone && k != ErrLocalShutdown
}

// classifyReadError maps a read-loop error onto the transport taxonomy.
// locallyClosed is true when the error was provoked by our own Close.
func classifyReadError(err error, locallyClosed bool) ErrorKind {
	if locallyClosed {
		return ErrLocalShutdown
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ErrRemoteClosed
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrProtocolError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrTransportFailure
}

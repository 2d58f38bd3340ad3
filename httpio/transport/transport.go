/*
The transport package defines the capability surface the httpio driver consumes
from the platform's asynchronous HTTP machinery. A Session hands out Handles,
one per POST attempt, and every Handle reports progress by invoking the
EventSink the driver supplied, from whatever goroutine the implementation
happens to run its I/O on. The driver never blocks on a Handle; every Handle
method merely initiates work and the outcome arrives later as an Event.
*/
package transport

import (
	"errors"
	"net/http"
	"time"
)

// Timeouts applied to every request handle. Connecting is uncapped; individual
// sends and reads are bounded; one long cap covers the whole exchange.
const (
	ConnectTimeout = 0
	SendTimeout    = 20 * time.Second
	ReceiveTimeout = 20 * time.Second
	OverallTimeout = 30 * time.Minute
)

var (
	ErrSessionClosed = errors.New("transport session is not open")
	ErrHandleClosed  = errors.New("transport handle is closed")
)

type EventKind int

const (
	// The handle has been closed and no further events will be delivered for
	// it. Always the final event, delivered exactly once per handle.
	HandleClosing EventKind = iota

	// N bytes of response body are ready to be read; N == 0 means the body
	// is complete
	DataAvailable

	// A ReadData call finished, having filled N bytes of its buffer
	ReadComplete

	// Response status line and headers are available on the handle
	HeadersAvailable

	// The request failed; Err holds the cause and Timeout reports whether it
	// was a deadline expiry
	RequestError

	// The request failed TLS validation
	SecureFailure

	// The initial SendRequest, or a subsequent WriteData, finished
	SendComplete
	WriteComplete
)

func (k EventKind) String() string {
	switch k {
	case HandleClosing:
		return "HandleClosing"
	case DataAvailable:
		return "DataAvailable"
	case ReadComplete:
		return "ReadComplete"
	case HeadersAvailable:
		return "HeadersAvailable"
	case RequestError:
		return "RequestError"
	case SecureFailure:
		return "SecureFailure"
	case SendComplete:
		return "SendComplete"
	case WriteComplete:
		return "WriteComplete"
	default:
		return "Unknown"
	}
}

type Event struct {
	Kind EventKind

	// Byte count for DataAvailable and ReadComplete
	N int

	Err     error
	Timeout bool
}

// EventSink receives handle events. Implementations of Handle may invoke it
// from arbitrary goroutines, but events for a single handle are delivered
// sequentially, never two at once.
type EventSink func(Event)

type Session interface {
	// Open readies the session under the given user agent identity. All
	// handles share the opened session.
	Open(userAgent string) error

	// Request resolves the url and prepares a POST attempt against it,
	// binding sink as the attempt's event receiver. Any error is a
	// synchronous setup failure: no handle exists and no events will fire.
	Request(rawurl string, headers http.Header, sink EventSink) (Handle, error)

	Close()
}

type Handle interface {
	// SendRequest transmits the request headers plus the initial body chunk,
	// declaring total as the full body length. Completion arrives as a
	// SendComplete event.
	SendRequest(initial []byte, total int) error

	// WriteData transmits one further body chunk; completes as WriteComplete
	WriteData(p []byte) error

	// ReceiveResponse switches the handle into response mode once the body
	// has been fully written; completes as HeadersAvailable
	ReceiveResponse() error

	// QueryDataAvailable asks how much response body is ready; completes as
	// DataAvailable
	QueryDataAvailable() error

	// ReadData copies ready response bytes into p; completes as ReadComplete.
	// The caller must keep p untouched until the completion event.
	ReadData(p []byte) error

	// StatusCode and Header may be called once HeadersAvailable has fired
	StatusCode() (int, error)
	Header(name string) (string, bool)

	// Close tears the handle down. Events already in flight may still be
	// delivered; HandleClosing arrives last, once no more are pending.
	Close()
}

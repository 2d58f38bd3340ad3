/*
The httpio package is an asynchronous POST driver. It bridges an application
event loop and a platform transport capability: Post hands a request to the
transport and returns immediately, the transport reports progress through
callbacks on its own goroutines, and the driver turns those callbacks into
request state changes plus a wakeup signal the application's waiter observes.

One lock guards everything the application and the callback goroutines both
touch. The application holds it to inspect in-flight requests and releases it
inside the waiter's wait call; callbacks take it for the duration of each
event. Cancellation detaches the request from its transport attempt under that
lock, so a callback racing the cancel observes the detachment and backs out.
*/
package httpio

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/ShBattsooj/sdk/httpio/transport"
	"github.com/ShBattsooj/sdk/httpio/waiter"
	"github.com/ShBattsooj/sdk/logger"
	"github.com/ShBattsooj/sdk/netstatus"
	"github.com/ShBattsooj/sdk/telemetry/throughput"
)

const (
	// upper bound on bytes handed to the transport per send or write step,
	// small enough that upload progress moves smoothly
	defaultPostChunkSize = 16384

	// urls past this length are rejected, never truncated
	maxURLLength = 8192
)

type Driver struct {
	logger  *logger.Logger
	session transport.Session

	// the one lock guarding all state shared with callback goroutines
	mu sync.Mutex

	// wakeup signal handed to the waiter; capacity one, signaled with a
	// non-blocking send so repeat signals coalesce
	wakeup chan struct{}
	waiter waiter.Waiter

	chunkSize int
	broken    bool

	// set when any request completes, drained by DoIO
	completed bool

	monitor *netstatus.Monitor
	stats   *throughput.Stats
	done    chan struct{}
}

func New(logger *logger.Logger, session transport.Session) *Driver {
	done := make(chan struct{})

	return &Driver{
		logger:    logger,
		session:   session,
		wakeup:    make(chan struct{}, 1),
		chunkSize: defaultPostChunkSize,
		monitor:   netstatus.New(logger.GetComponentLogger("NetStatus")),
		stats:     throughput.NewStats("B", done),
		done:      done,
	}
}

// Configure opens the transport session under the given user agent identity.
// A failure here is fatal for the driver: every subsequent Post fails.
func (d *Driver) Configure(userAgent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.session.Open(userAgent); err != nil {
		d.broken = true
		return fmt.Errorf("failed to open transport session: %w", err)
	}
	return nil
}

// Ready reports whether the driver can accept posts
func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.broken
}

// Lock acquires the driver lock on behalf of the application goroutine. Hold
// it to inspect an in-flight request; release it before blocking in the
// waiter.
func (d *Driver) Lock() {
	d.mu.Lock()
}

func (d *Driver) Unlock() {
	d.mu.Unlock()
}

// RegisterWakeup hands the waiter the wakeup signal and the driver lock so
// its wait primitive can park with the lock released
func (d *Driver) RegisterWakeup(w waiter.Waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w.AddWakeup(d.wakeup)
	w.AddLock(&d.mu)
	d.waiter = w
}

// Monitor exposes the connectivity edge events raised by request outcomes
func (d *Driver) Monitor() *netstatus.Monitor {
	return d.monitor
}

// Stats returns a digest of bytes moved through the driver
func (d *Driver) Stats() throughput.Digest {
	return d.stats.Digest()
}

// Post begins an asynchronous POST. data overrides the request's own body
// when non-nil. Post never blocks: on synchronous setup failure the request
// is marked Failure with no attempt attached, otherwise it is InFlight and
// all further progress arrives through transport callbacks.
func (d *Driver) Post(req *Request, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.broken {
		d.logger.Errorf("cannot post request %s: %s", req.Id, ErrSessionBroken)
		req.setStatus(Failure)
		return
	}

	if req.Binary {
		d.logger.Debugf("POST target URL: %s [sending %d bytes of raw data]", req.PostURL, len(req.Out))
	} else {
		d.logger.Debugf("POST target URL: %s sending: %s", req.PostURL, req.Out)
	}

	if len(req.PostURL) > maxURLLength {
		d.logger.Errorf("cannot post request %s: %s", req.Id, ErrURLTooLong)
		req.setStatus(Failure)
		return
	}

	if _, err := url.ParseRequestURI(req.PostURL); err != nil {
		d.logger.Errorf("cannot post request %s: malformed url: %s", req.Id, err)
		req.setStatus(Failure)
		return
	}

	ctx := &attempt{
		driver: d,
		req:    req,
	}

	handle, err := d.session.Request(req.PostURL, d.headersFor(req), func(ev transport.Event) {
		d.dispatch(ctx, ev)
	})
	if err != nil {
		d.logger.Errorf("failed to open request %s: %s", req.Id, err)
		req.setStatus(Failure)
		return
	}

	ctx.handle = handle
	req.attempt = ctx

	body := req.Out
	if data != nil {
		body = data
	}

	// the first chunk rides along with the request headers; the rest is
	// streamed chunk by chunk from the dispatcher as write completions come
	// back
	ctx.postdata = body
	ctx.postlen = len(body)
	ctx.postpos = ctx.postlen
	if ctx.postpos > d.chunkSize {
		ctx.postpos = d.chunkSize
	}

	if err := handle.SendRequest(body[:ctx.postpos], ctx.postlen); err != nil {
		d.logger.Errorf("failed to send request %s: %s", req.Id, err)
		ctx.detach()
		req.attempt = nil
		req.setStatus(Failure)
		return
	}

	d.stats.CountOutbound(ctx.postpos)
	req.setStatus(InFlight)
}

// Cancel aborts an in-flight request, or releases the transport resources of
// a completed one. Idempotent, and safe to call while a callback for the same
// attempt is executing: whichever takes the lock first wins, and the loser
// observes the detachment.
func (d *Driver) Cancel(req *Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(req)
}

func (d *Driver) cancelLocked(req *Request) {
	ctx := req.attempt
	if ctx == nil {
		return
	}

	ctx.detach()
	req.attempt = nil

	// a request canceled after natural completion keeps its outcome
	if req.status != Success && req.status != Failure {
		req.HttpStatus = 0
		req.setStatus(Failure)
	}
}

// PostProgress reports how many bytes of the outgoing body have been handed
// to the transport so far, for upload progress display
func (d *Driver) PostProgress(req *Request) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.attempt == nil {
		return 0
	}
	return req.attempt.postpos
}

// DoIO drains driver-level bookkeeping after a wakeup. No blocking work
// happens here: all real progress is made in the callbacks. Returns whether
// any request reached a terminal status since the last call.
func (d *Driver) DoIO() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	completed := d.completed
	d.completed = false
	return completed
}

// Close releases the session. In-flight requests should be canceled first.
func (d *Driver) Close() {
	d.mu.Lock()
	d.broken = true
	d.mu.Unlock()

	d.session.Close()
	d.monitor.Close()
	close(d.done)
}

// wake signals the waiter; coalesces when a signal is already pending
func (d *Driver) wake() {
	select {
	case d.wakeup <- struct{}{}:
	default:
	}
}

func (d *Driver) headersFor(req *Request) http.Header {
	headers := http.Header{}
	if !req.Binary || req.Out == nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept-Encoding", "gzip")
	} else {
		headers.Set("Content-Type", "application/octet-stream")
	}
	return headers
}

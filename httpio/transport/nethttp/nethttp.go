/*
The nethttp package is the default transport capability, built on net/http. A
worker goroutine per handle executes the driver's commands one at a time and
synthesizes the event sequence the driver expects: the request body is fed
through a pipe so that the initial chunk and every subsequent write complete
individually, and the response body is staged a chunk at a time so that the
driver controls exactly when bytes are consumed.
*/
package nethttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/ShBattsooj/sdk/httpio/transport"
	"github.com/ShBattsooj/sdk/logger"
)

// staging granularity for response reads
const readChunkSize = 16384

var errSendTimeout = errors.New("timed out writing request body")

type Session struct {
	logger *logger.Logger

	client    *http.Client
	userAgent string

	// overridable for tests; default to the transport-wide constants
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration
	OverallTimeout time.Duration
}

func New(logger *logger.Logger) *Session {
	return &Session{
		logger:         logger,
		SendTimeout:    transport.SendTimeout,
		ReceiveTimeout: transport.ReceiveTimeout,
		OverallTimeout: transport.OverallTimeout,
	}
}

func (s *Session) Open(userAgent string) error {
	s.userAgent = userAgent

	// decompression is the driver's job, and connecting is deliberately
	// uncapped: the overall deadline bounds the whole exchange instead
	s.client = &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: transport.ConnectTimeout,
			}).DialContext,
			DisableCompression: true,
		},
	}
	return nil
}

func (s *Session) Close() {
	if s.client != nil {
		if t, ok := s.client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
		s.client = nil
	}
}

func (s *Session) Request(rawurl string, headers http.Header, sink transport.EventSink) (transport.Handle, error) {
	if s.client == nil {
		return nil, transport.ErrSessionClosed
	}

	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("unsupported url scheme: " + u.Scheme)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.OverallTimeout)
	pr, pw := io.Pipe()

	h := &handle{
		logger:    s.logger,
		session:   s,
		sink:      sink,
		url:       u,
		headers:   headers,
		cmds:      make(chan command, 4),
		ctx:       ctx,
		cancelCtx: cancel,
		pr:        pr,
		pw:        pw,
		respc:     make(chan doResult, 1),
	}
	h.tmb.Go(h.run)

	return h, nil
}

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdWrite
	cmdReceive
	cmdQuery
	cmdRead
)

type command struct {
	kind  cmdKind
	data  []byte
	total int
}

type doResult struct {
	resp *http.Response
	err  error
}

type handle struct {
	tmb     tomb.Tomb
	logger  *logger.Logger
	session *Session
	sink    transport.EventSink
	url     *url.URL
	headers http.Header

	cmds chan command

	ctx       context.Context
	cancelCtx context.CancelFunc
	pr        *io.PipeReader
	pw        *io.PipeWriter
	respc     chan doResult

	// set when a read watchdog cancels the context, so the resulting failure
	// classifies as a timeout
	timedOut atomic.Bool

	mu     sync.Mutex
	resp   *http.Response
	staged []byte

	closeOnce sync.Once
}

func (h *handle) SendRequest(initial []byte, total int) error {
	return h.enqueue(command{kind: cmdSend, data: initial, total: total})
}

func (h *handle) WriteData(p []byte) error {
	return h.enqueue(command{kind: cmdWrite, data: p})
}

func (h *handle) ReceiveResponse() error {
	return h.enqueue(command{kind: cmdReceive})
}

func (h *handle) QueryDataAvailable() error {
	return h.enqueue(command{kind: cmdQuery})
}

func (h *handle) ReadData(p []byte) error {
	return h.enqueue(command{kind: cmdRead, data: p})
}

func (h *handle) StatusCode() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resp == nil {
		return 0, errors.New("response headers are not available yet")
	}
	return h.resp.StatusCode, nil
}

func (h *handle) Header(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resp == nil {
		return "", false
	}
	values := h.resp.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Close never blocks: it snaps every outstanding operation and lets the
// worker wind down on its own, delivering HandleClosing when it has.
func (h *handle) Close() {
	h.closeOnce.Do(func() {
		h.tmb.Kill(nil)
		h.cancelCtx()
		h.pw.CloseWithError(transport.ErrHandleClosed)
	})
}

func (h *handle) enqueue(cmd command) error {
	select {
	case h.cmds <- cmd:
		return nil
	case <-h.tmb.Dying():
		return transport.ErrHandleClosed
	}
}

func (h *handle) run() error {
	defer h.sink(transport.Event{Kind: transport.HandleClosing})
	defer h.cleanup()

	for {
		select {
		case <-h.tmb.Dying():
			return nil
		case cmd := <-h.cmds:
			h.exec(cmd)
		}
	}
}

func (h *handle) cleanup() {
	h.cancelCtx()
	h.pw.CloseWithError(transport.ErrHandleClosed)

	h.mu.Lock()
	resp := h.resp
	h.resp = nil
	h.mu.Unlock()

	if resp != nil {
		resp.Body.Close()
	}

	// reap the doer, if one was ever started
	select {
	case res := <-h.respc:
		if res.resp != nil {
			res.resp.Body.Close()
		}
	default:
	}
}

func (h *handle) exec(cmd command) {
	switch cmd.kind {
	case cmdSend:
		h.execSend(cmd.data, cmd.total)
	case cmdWrite:
		h.writeBody(cmd.data, transport.WriteComplete)
	case cmdReceive:
		h.execReceive()
	case cmdQuery:
		h.execQuery()
	case cmdRead:
		h.execRead(cmd.data)
	}
}

func (h *handle) execSend(initial []byte, total int) {
	var body io.Reader = h.pr
	if total == 0 {
		// nothing will be piped, and the transport may skip reading an empty
		// body entirely
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.url.String(), body)
	if err != nil {
		h.fail(err)
		return
	}
	req.Header = h.headers.Clone()
	if h.session.userAgent != "" {
		req.Header.Set("User-Agent", h.session.userAgent)
	}
	req.ContentLength = int64(total)

	h.tmb.Go(func() error {
		resp, err := h.session.client.Do(req)
		h.respc <- doResult{resp: resp, err: err}
		return nil
	})

	h.writeBody(initial, transport.SendComplete)
}

func (h *handle) writeBody(p []byte, done transport.EventKind) {
	if len(p) > 0 {
		watchdog := time.AfterFunc(h.session.SendTimeout, func() {
			h.timedOut.Store(true)
			h.pw.CloseWithError(errSendTimeout)
		})
		_, err := h.pw.Write(p)
		watchdog.Stop()

		if err != nil {
			// the doer sees the same pipe error; report it once, from here
			h.fail(err)
			return
		}
	}
	h.sink(transport.Event{Kind: done})
}

func (h *handle) execReceive() {
	h.pw.Close()

	watchdog := time.AfterFunc(h.session.ReceiveTimeout, func() {
		h.timedOut.Store(true)
		h.cancelCtx()
	})

	select {
	case res := <-h.respc:
		watchdog.Stop()
		if res.err != nil {
			h.fail(res.err)
			return
		}
		h.mu.Lock()
		h.resp = res.resp
		h.mu.Unlock()
		h.sink(transport.Event{Kind: transport.HeadersAvailable})
	case <-h.tmb.Dying():
		watchdog.Stop()
	}
}

func (h *handle) execQuery() {
	h.mu.Lock()
	resp := h.resp
	h.mu.Unlock()

	if resp == nil {
		h.fail(errors.New("response body queried before headers"))
		return
	}

	buf := h.staged
	if cap(buf) < readChunkSize {
		buf = make([]byte, readChunkSize)
	}
	buf = buf[:readChunkSize]

	watchdog := time.AfterFunc(h.session.ReceiveTimeout, func() {
		h.timedOut.Store(true)
		h.cancelCtx()
	})

	var n int
	var err error
	for n == 0 && err == nil {
		n, err = resp.Body.Read(buf)
	}
	watchdog.Stop()

	if n > 0 {
		h.mu.Lock()
		h.staged = buf[:n]
		h.mu.Unlock()
		h.sink(transport.Event{Kind: transport.DataAvailable, N: n})
		return
	}

	if err == io.EOF {
		h.sink(transport.Event{Kind: transport.DataAvailable, N: 0})
		return
	}
	h.fail(err)
}

func (h *handle) execRead(p []byte) {
	h.mu.Lock()
	n := copy(p, h.staged)
	h.staged = h.staged[:0]
	h.mu.Unlock()

	h.sink(transport.Event{Kind: transport.ReadComplete, N: n})
}

// fail classifies and reports a request failure. TLS validation problems get
// their own event kind; everything else is a request error, flagged as a
// timeout when a deadline or watchdog expired.
func (h *handle) fail(err error) {
	ev := transport.Event{Err: err}

	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	switch {
	case errors.As(err, &certErr), errors.As(err, &hostErr), errors.As(err, &authErr):
		ev.Kind = transport.SecureFailure
	default:
		ev.Kind = transport.RequestError
		ev.Timeout = h.isTimeout(err)
	}

	h.sink(ev)
}

func (h *handle) isTimeout(err error) bool {
	if h.timedOut.Load() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errSendTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

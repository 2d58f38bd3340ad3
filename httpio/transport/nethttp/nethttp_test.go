package nethttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShBattsooj/sdk/httpio/transport"
	"github.com/ShBattsooj/sdk/logger"
)

func newTestSession(t *testing.T) *Session {
	s := New(logger.MockLogger(io.Discard))
	require.NoError(t, s.Open("nethttp-test"))
	t.Cleanup(s.Close)
	return s
}

// sinkRecorder buffers transport events so tests can assert on their order
func sinkRecorder() (transport.EventSink, chan transport.Event) {
	events := make(chan transport.Event, 32)
	return func(ev transport.Event) { events <- ev }, events
}

func nextEvent(t *testing.T, events chan transport.Event) transport.Event {
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a transport event")
		return transport.Event{}
	}
}

func expectEvent(t *testing.T, events chan transport.Event, kind transport.EventKind) transport.Event {
	ev := nextEvent(t, events)
	require.Equal(t, kind, ev.Kind, "unexpected event %s: %v", ev.Kind, ev.Err)
	return ev
}

func TestFullExchangeEventOrder(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello world")
	}))
	defer server.Close()

	session := newTestSession(t)
	sink, events := sinkRecorder()

	handle, err := session.Request(server.URL, http.Header{}, sink)
	require.NoError(t, err)

	body := []byte(`{"a":1}`)
	require.NoError(t, handle.SendRequest(body, len(body)))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.ReceiveResponse())
	expectEvent(t, events, transport.HeadersAvailable)
	assert.Equal(t, body, gotBody)

	code, err := handle.StatusCode()
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	require.NoError(t, handle.QueryDataAvailable())
	avail := expectEvent(t, events, transport.DataAvailable)
	require.Equal(t, len("hello world"), avail.N)

	buf := make([]byte, avail.N)
	require.NoError(t, handle.ReadData(buf))
	read := expectEvent(t, events, transport.ReadComplete)
	assert.Equal(t, avail.N, read.N)
	assert.Equal(t, "hello world", string(buf[:read.N]))

	// the second query finds the body drained
	require.NoError(t, handle.QueryDataAvailable())
	avail = expectEvent(t, events, transport.DataAvailable)
	assert.Zero(t, avail.N)

	handle.Close()
	expectEvent(t, events, transport.HandleClosing)
	assert.Empty(t, events, "no events may follow HandleClosing")
}

func TestChunkedBodyWrites(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	session := newTestSession(t)
	sink, events := sinkRecorder()

	handle, err := session.Request(server.URL, http.Header{}, sink)
	require.NoError(t, err)
	defer handle.Close()

	first, second := []byte("first-"), []byte("second")
	require.NoError(t, handle.SendRequest(first, len(first)+len(second)))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.WriteData(second))
	expectEvent(t, events, transport.WriteComplete)

	require.NoError(t, handle.ReceiveResponse())
	expectEvent(t, events, transport.HeadersAvailable)
	assert.Equal(t, "first-second", string(gotBody))
}

func TestEmptyBodySend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Zero(t, r.ContentLength)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	session := newTestSession(t)
	sink, events := sinkRecorder()

	handle, err := session.Request(server.URL, http.Header{}, sink)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.SendRequest(nil, 0))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.ReceiveResponse())
	expectEvent(t, events, transport.HeadersAvailable)

	code, err := handle.StatusCode()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHeadersAndUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "nethttp-test", r.Header.Get("User-Agent"))
		w.Header().Set("Original-Content-Length", "128")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	session := newTestSession(t)
	sink, events := sinkRecorder()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	handle, err := session.Request(server.URL, headers, sink)
	require.NoError(t, err)
	defer handle.Close()

	// headers are unavailable until the response arrives
	_, err = handle.StatusCode()
	assert.Error(t, err)
	_, ok := handle.Header("Original-Content-Length")
	assert.False(t, ok)

	require.NoError(t, handle.SendRequest(nil, 0))
	expectEvent(t, events, transport.SendComplete)
	require.NoError(t, handle.ReceiveResponse())
	expectEvent(t, events, transport.HeadersAvailable)

	value, ok := handle.Header("Original-Content-Length")
	assert.True(t, ok)
	assert.Equal(t, "128", value)

	_, ok = handle.Header("X-Missing")
	assert.False(t, ok)
}

func TestReceiveTimeoutClassifiesAsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	session := newTestSession(t)
	session.ReceiveTimeout = 100 * time.Millisecond
	sink, events := sinkRecorder()

	handle, err := session.Request(server.URL, http.Header{}, sink)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.SendRequest(nil, 0))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.ReceiveResponse())
	ev := expectEvent(t, events, transport.RequestError)
	assert.True(t, ev.Timeout)
	assert.Error(t, ev.Err)
}

func TestConnectionRefusedIsNotATimeout(t *testing.T) {
	session := newTestSession(t)
	sink, events := sinkRecorder()

	handle, err := session.Request("http://localhost:1/nobody-home", http.Header{}, sink)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.SendRequest(nil, 0))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.ReceiveResponse())
	ev := expectEvent(t, events, transport.RequestError)
	assert.False(t, ev.Timeout)
	assert.Error(t, ev.Err)
}

func TestCloseMidFlightDeliversHandleClosing(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	session := newTestSession(t)
	sink, events := sinkRecorder()

	handle, err := session.Request(server.URL, http.Header{}, sink)
	require.NoError(t, err)

	require.NoError(t, handle.SendRequest(nil, 0))
	expectEvent(t, events, transport.SendComplete)

	require.NoError(t, handle.ReceiveResponse())
	handle.Close()

	for {
		ev := nextEvent(t, events)
		if ev.Kind == transport.HandleClosing {
			break
		}
	}
	assert.Empty(t, events, "HandleClosing must be the final event")
}

func TestRejectsUnsupportedScheme(t *testing.T) {
	session := newTestSession(t)
	sink, _ := sinkRecorder()

	_, err := session.Request("ftp://example.com/upload", http.Header{}, sink)
	assert.Error(t, err)
}

func TestRequestAfterSessionClose(t *testing.T) {
	session := New(logger.MockLogger(io.Discard))
	require.NoError(t, session.Open("nethttp-test"))
	session.Close()

	sink, _ := sinkRecorder()
	_, err := session.Request("http://example.com", http.Header{}, sink)
	assert.ErrorIs(t, err, transport.ErrSessionClosed)
}

package httpio

import (
	"github.com/google/uuid"
)

// Status is the lifecycle of a Request. It only ever moves forward: once a
// request reaches Success or Failure it stays there until a fresh Post
// replaces it.
type Status int

const (
	Prepared Status = iota
	InFlight
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Prepared:
		return "Prepared"
	case InFlight:
		return "InFlight"
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// Request is one logical POST and its response. The driver's lock guards every
// mutable field while the request is in flight; the application must hold the
// lock (Driver.Lock) before inspecting a request whose status has not settled.
type Request struct {
	Id      uuid.UUID
	PostURL string

	// Outgoing body. Binary requests are sent as raw octets, everything else
	// as json.
	Out    []byte
	Binary bool

	// BufferedRaw marks a request whose response is streamed raw into the
	// incoming buffer with no decompression, regardless of response headers
	BufferedRaw bool

	HttpStatus int

	in            []byte
	reserved      int
	status        Status
	contentLength int64

	// the current transport attempt, nil once detached
	attempt *attempt
}

// NewRequest prepares a POST to the given url. The request does nothing until
// it is handed to Driver.Post.
func NewRequest(posturl string, out []byte, binary bool) *Request {
	return &Request{
		Id:      uuid.New(),
		PostURL: posturl,
		Out:     out,
		Binary:  binary,
	}
}

func (r *Request) Status() Status {
	return r.status
}

// In returns the response body received so far
func (r *Request) In() []byte {
	return r.in
}

func (r *Request) ContentLength() int64 {
	return r.contentLength
}

// SetContentLength records the server-declared decompressed size
func (r *Request) SetContentLength(n int64) {
	r.contentLength = n
}

// ReserveIn grows the incoming buffer by n uncommitted bytes and returns the
// writable region; a following CompleteIn commits however many of them were
// actually filled
func (r *Request) ReserveIn(n int) []byte {
	committed := len(r.in)
	if cap(r.in) < committed+n {
		grown := make([]byte, committed, committed+n)
		copy(grown, r.in)
		r.in = grown
	}
	r.reserved = n
	return r.in[committed : committed+n : committed+n]
}

// CompleteIn commits n bytes of the most recent reservation
func (r *Request) CompleteIn(n int) {
	if n > r.reserved {
		n = r.reserved
	}
	r.in = r.in[:len(r.in)+n]
	r.reserved = 0
}

// presizeIn replaces the incoming buffer with a full-length window for the
// decompressor to fill in place
func (r *Request) presizeIn(n int64) []byte {
	r.in = make([]byte, n)
	return r.in
}

// setStatus enforces forward-only transitions; terminal states stick
func (r *Request) setStatus(s Status) {
	if r.status == Success || r.status == Failure {
		return
	}
	r.status = s
}

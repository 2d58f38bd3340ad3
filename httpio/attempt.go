package httpio

import (
	"github.com/ShBattsooj/sdk/httpio/gzipstream"
	"github.com/ShBattsooj/sdk/httpio/transport"
)

// attempt lifecycle. A detached attempt has had its handle closed but must
// stay around until the transport confirms no more callbacks are coming for
// it; only then may it be released.
type attemptState int

const (
	attemptLive attemptState = iota
	attemptDetached
	attemptClosed
)

// attempt binds one Request to one transport handle for the duration of a
// single POST. It owns the chunked-send cursor and, when the response turns
// out to be compressed, the decompression stream.
type attempt struct {
	driver *Driver

	// nil exactly when the attempt has been detached by cancellation or
	// completion teardown; the callback's nil check on entry is what resolves
	// the cancel-vs-callback race
	req *Request

	handle transport.Handle
	state  attemptState

	// chunked upload cursor: postpos bytes of postdata have been handed to
	// the transport, out of postlen total
	postdata []byte
	postpos  int
	postlen  int

	// response side
	gzip    bool
	decoder *gzipstream.Stream
	readBuf []byte
}

// detach severs the attempt from its request and closes the transport handle.
// The attempt itself survives until HandleClosing reports it safe to release.
func (a *attempt) detach() {
	a.req = nil
	a.state = attemptDetached

	if a.decoder != nil {
		a.decoder.Close()
		a.decoder = nil
	}

	if a.handle != nil {
		a.handle.Close()
	}
}

// release is the second phase of teardown, entered only from HandleClosing
func (a *attempt) release() {
	a.state = attemptClosed

	if a.decoder != nil {
		a.decoder.Close()
		a.decoder = nil
	}

	a.handle = nil
	a.readBuf = nil
	a.postdata = nil
}

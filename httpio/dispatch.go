package httpio

import (
	"strconv"

	"github.com/ShBattsooj/sdk/httpio/gzipstream"
	"github.com/ShBattsooj/sdk/httpio/transport"
)

// response header carrying the decompressed size; always present when the
// server gzips, and required to presize the output window before the first
// decompressed byte lands
const originalContentLengthHeader = "Original-Content-Length"

// dispatch is the transport's event callback. It runs on whatever goroutine
// the transport delivers from, takes the driver lock for the duration of the
// event, and drives the request state machine. A nil req means cancellation
// got here first and the event is a no-op.
func (d *Driver) dispatch(ctx *attempt, ev transport.Event) {
	if ev.Kind == transport.HandleClosing {
		// final notification for this attempt: the transport promises no
		// further callbacks, so the attempt may now be released
		d.mu.Lock()
		ctx.release()
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// cancellations that happened after the transport queued this event are
	// caught here
	req := ctx.req
	if req == nil {
		return
	}

	switch ev.Kind {
	case transport.DataAvailable:
		d.onDataAvailable(ctx, req, ev.N)

	case transport.ReadComplete:
		d.onReadComplete(ctx, req, ev.N)

	case transport.HeadersAvailable:
		d.onHeadersAvailable(ctx, req)

	case transport.RequestError:
		// timeouts say nothing about the network as a whole
		if d.waiter != nil && !ev.Timeout {
			d.monitor.Report(false)
		}
		d.logger.Errorf("request %s failed: %s", req.Id, ev.Err)
		d.cancelLocked(req)
		d.wake()

	case transport.SecureFailure:
		d.logger.Errorf("request %s failed TLS validation: %s", req.Id, ev.Err)
		d.cancelLocked(req)
		d.wake()

	case transport.SendComplete, transport.WriteComplete:
		d.onWriteStep(ctx, req)
	}
}

func (d *Driver) onDataAvailable(ctx *attempt, req *Request, size int) {
	if size == 0 {
		if req.Binary {
			d.logger.Debugf("request %s received %d bytes of raw data", req.Id, len(req.in))
		} else {
			d.logger.Debugf("request %s received: %s", req.Id, req.in)
		}

		if ctx.gzip && !ctx.decoder.Done() {
			// the body ended before the declared decompressed size was reached
			d.logger.Errorf("request %s response ended mid-stream after %d bytes", req.Id, ctx.decoder.Written())
			req.setStatus(Failure)
		} else if req.HttpStatus == 200 {
			req.setStatus(Success)
		} else {
			req.setStatus(Failure)
		}

		d.completed = true
		d.wake()
		return
	}

	// compressed bytes land in a scratch buffer for the decoder; raw bytes go
	// straight into the request's incoming buffer
	var dst []byte
	if ctx.gzip {
		if cap(ctx.readBuf) < size {
			ctx.readBuf = make([]byte, size)
		}
		dst = ctx.readBuf[:size]
	} else {
		dst = req.ReserveIn(size)
	}

	if err := ctx.handle.ReadData(dst); err != nil {
		d.cancelLocked(req)
	}
	d.wake()
}

func (d *Driver) onReadComplete(ctx *attempt, req *Request, n int) {
	if n == 0 {
		return
	}

	d.stats.CountInbound(n)

	if ctx.gzip {
		if _, err := ctx.decoder.Feed(ctx.readBuf[:n]); err != nil {
			d.logger.Errorf("request %s response decode failed: %s", req.Id, err)
			d.cancelLocked(req)
			d.wake()
			return
		}
	} else {
		req.CompleteIn(n)
	}

	if err := ctx.handle.QueryDataAvailable(); err != nil {
		d.cancelLocked(req)
		d.wake()
	}
}

func (d *Driver) onHeadersAvailable(ctx *attempt, req *Request) {
	code, err := ctx.handle.StatusCode()
	if err != nil {
		d.cancelLocked(req)
		d.wake()
		return
	}

	req.HttpStatus = code

	if req.BufferedRaw {
		ctx.gzip = false
	} else if raw, ok := ctx.handle.Header(originalContentLengthHeader); ok {
		// the original length header is always present when gzip is in use
		if length, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.SetContentLength(length)

			encoding, ok := ctx.handle.Header("Content-Encoding")
			ctx.gzip = ok && encoding == "gzip"

			if ctx.gzip {
				ctx.decoder = gzipstream.New(req.presizeIn(length))
			}
		}
	}

	if err := ctx.handle.QueryDataAvailable(); err != nil {
		d.cancelLocked(req)
		d.wake()
	} else if d.waiter != nil && d.monitor.Down() {
		d.monitor.Report(true)
	}
}

func (d *Driver) onWriteStep(ctx *attempt, req *Request) {
	if ctx.postpos < ctx.postlen {
		pos := ctx.postpos
		t := ctx.postlen - pos
		if t > d.chunkSize {
			t = d.chunkSize
		}
		ctx.postpos += t

		if err := ctx.handle.WriteData(ctx.postdata[pos : pos+t]); err != nil {
			d.cancelLocked(req)
		} else {
			d.stats.CountOutbound(t)
		}
		d.wake()
	} else {
		if err := ctx.handle.ReceiveResponse(); err != nil {
			d.cancelLocked(req)
			d.wake()
		}
	}
}

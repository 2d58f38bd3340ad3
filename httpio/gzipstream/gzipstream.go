/*
The gzipstream package adapts Go's pull-based gzip reader to the push-based
protocol the httpio dispatcher needs: compressed bytes arrive in chunks as the
transport delivers them, and decompressed bytes must land in a caller-owned
window that was presized to the declared content length before the first byte
arrived. A worker goroutine runs the inflater; Feed hands it one chunk and
returns once the worker has either produced everything that chunk allows or
hit a terminal condition.
*/
package gzipstream

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"gopkg.in/tomb.v2"
)

var (
	// ErrShortStream means the gzip stream ended before the output window was
	// full: the server delivered fewer bytes than it declared
	ErrShortStream = errors.New("gzip stream ended short of the declared length")

	// ErrLongStream means the stream kept producing after the window filled
	ErrLongStream = errors.New("gzip stream exceeded the declared length")

	errStreamClosed = errors.New("gzip stream closed")
)

type Stream struct {
	tmb tomb.Tomb

	// caller-owned output window; written strictly left to right, never
	// beyond its length
	out []byte
	pos int

	// rendezvous channels between Feed and the inflate worker. feedc hands a
	// chunk over; consumedc fires when the worker has exhausted it and
	// produced all output it allows.
	feedc     chan []byte
	consumedc chan struct{}
}

// New starts an inflate worker writing into out. The caller must Close the
// stream once it is done feeding, whether or not decoding succeeded.
func New(out []byte) *Stream {
	s := &Stream{
		out:       out,
		feedc:     make(chan []byte),
		consumedc: make(chan struct{}),
	}
	s.tmb.Go(s.run)
	return s
}

// Feed pushes one chunk of compressed bytes and returns how many decompressed
// bytes it produced into the window. A non-nil error is terminal: the window
// contents are undefined and the response must be abandoned.
func (s *Stream) Feed(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	start := s.pos

	select {
	case s.feedc <- p:
	case <-s.tmb.Dead():
		// the worker finished before this chunk: clean end means these are
		// trailing bytes the declared length has no room for
		if err := s.tmb.Err(); err != nil {
			return 0, err
		}
		return 0, ErrLongStream
	}

	select {
	case <-s.consumedc:
		return s.pos - start, nil
	case <-s.tmb.Dead():
		return s.pos - start, s.tmb.Err()
	}
}

// Done reports whether the stream reached a clean end with the window exactly
// full
func (s *Stream) Done() bool {
	select {
	case <-s.tmb.Dead():
		return s.tmb.Err() == nil
	default:
		return false
	}
}

// Written returns the number of decompressed bytes produced so far. Only
// meaningful between Feed calls.
func (s *Stream) Written() int {
	return s.pos
}

func (s *Stream) Close() {
	s.tmb.Kill(errStreamClosed)
	s.tmb.Wait()
}

func (s *Stream) run() error {
	zr, err := gzip.NewReader(&chunkReader{stream: s})
	if err != nil {
		if errors.Is(err, errStreamClosed) {
			return errStreamClosed
		}
		return fmt.Errorf("malformed gzip header: %w", err)
	}
	defer zr.Close()

	// a response is exactly one member; concatenated members would run past
	// the declared length
	zr.Multistream(false)

	for s.pos < len(s.out) {
		n, err := zr.Read(s.out[s.pos:])
		s.pos += n

		if err == io.EOF {
			if s.pos < len(s.out) {
				return ErrShortStream
			}
			return nil
		} else if err != nil {
			if errors.Is(err, errStreamClosed) {
				return errStreamClosed
			}
			return fmt.Errorf("gzip inflate failed: %w", err)
		}
	}

	// window is full; the stream must end here
	var probe [1]byte
	for {
		n, err := zr.Read(probe[:])
		if n > 0 {
			return ErrLongStream
		}

		if err == io.EOF {
			return nil
		} else if errors.Is(err, errStreamClosed) {
			return errStreamClosed
		} else if err != nil {
			return fmt.Errorf("gzip inflate failed: %w", err)
		}
	}
}

// chunkReader is the worker-side view of the rendezvous: it serves the
// inflater bytes from the current chunk and, when that runs dry, tells Feed
// the chunk is consumed before blocking for the next one.
type chunkReader struct {
	stream *Stream
	cur    []byte
	fed    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	s := r.stream

	for len(r.cur) == 0 {
		if r.fed {
			select {
			case s.consumedc <- struct{}{}:
			case <-s.tmb.Dying():
				return 0, errStreamClosed
			}
		}

		select {
		case chunk := <-s.feedc:
			r.cur = chunk
			r.fed = true
		case <-s.tmb.Dying():
			return 0, errStreamClosed
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

package gzipstream

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestSingleFeedExactFit(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	out := make([]byte, len(payload))

	stream := New(out)
	defer stream.Close()

	written, err := stream.Feed(compress(t, payload))
	require.NoError(t, err)

	assert.Equal(t, len(payload), written)
	assert.Equal(t, payload, out)
	assert.True(t, stream.Done())
}

func TestFeedByteAtATime(t *testing.T) {
	payload := []byte("incremental decompression across many tiny feeds")
	out := make([]byte, len(payload))

	stream := New(out)
	defer stream.Close()

	total := 0
	for _, b := range compress(t, payload) {
		written, err := stream.Feed([]byte{b})
		require.NoError(t, err)
		total += written
	}

	assert.Equal(t, len(payload), total)
	assert.Equal(t, len(payload), stream.Written())
	assert.Equal(t, payload, out)
	assert.True(t, stream.Done())
}

func TestShortStream(t *testing.T) {
	// the server declared more bytes than the stream actually inflates to
	payload := []byte("ab")
	out := make([]byte, len(payload)+10)

	stream := New(out)
	defer stream.Close()

	_, err := stream.Feed(compress(t, payload))
	assert.ErrorIs(t, err, ErrShortStream)
	assert.False(t, stream.Done())
}

func TestLongStream(t *testing.T) {
	// the stream inflates past the declared length
	payload := []byte("this payload is longer than declared")
	out := make([]byte, 4)

	stream := New(out)
	defer stream.Close()

	_, err := stream.Feed(compress(t, payload))
	assert.ErrorIs(t, err, ErrLongStream)
	assert.False(t, stream.Done())
}

func TestGarbageInput(t *testing.T) {
	out := make([]byte, 16)

	stream := New(out)
	defer stream.Close()

	_, err := stream.Feed([]byte("definitely not a gzip stream"))
	assert.Error(t, err)
	assert.False(t, stream.Done())
}

func TestCorruptBody(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdef"), 100)
	compressed := compress(t, payload)

	// flip bits in the middle of the deflate data
	compressed[len(compressed)/2] ^= 0xff
	compressed[len(compressed)/2+1] ^= 0xff

	stream := New(make([]byte, len(payload)))
	defer stream.Close()

	_, err := stream.Feed(compressed)
	assert.Error(t, err)
}

func TestEmptyPayload(t *testing.T) {
	stream := New([]byte{})
	defer stream.Close()

	written, err := stream.Feed(compress(t, nil))
	require.NoError(t, err)

	assert.Zero(t, written)
	assert.True(t, stream.Done())
}

func TestTrailingDataAfterCleanEnd(t *testing.T) {
	payload := []byte("done")

	stream := New(make([]byte, len(payload)))
	defer stream.Close()

	_, err := stream.Feed(compress(t, payload))
	require.NoError(t, err)
	require.True(t, stream.Done())

	_, err = stream.Feed([]byte("surplus"))
	assert.ErrorIs(t, err, ErrLongStream)
}

func TestCloseUnblocksMidStream(t *testing.T) {
	payload := []byte("a stream that never finishes")
	compressed := compress(t, payload)

	stream := New(make([]byte, len(payload)))

	// feed everything except the trailer so the worker stays hungry
	_, err := stream.Feed(compressed[:len(compressed)-8])
	require.NoError(t, err)

	// must return promptly rather than hang on the stalled worker
	stream.Close()
	assert.False(t, stream.Done())
}

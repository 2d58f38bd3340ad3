package throughput

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Total int    `json:"total"`
	Unit  string `json:"unit"`
	Data  []int  `json:"data"`
}

func decode(t *testing.T, raw json.RawMessage) sample {
	var s sample
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestObservationsAccumulate(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	tp := New("bytes", done)

	tp.Observe(100)
	tp.Observe(50)

	// let the ticker close the current window
	time.Sleep(1500 * time.Millisecond)

	s := decode(t, tp.String())
	assert.Equal(t, 150, s.Total)
	assert.Equal(t, "bytes", s.Unit)
	require.NotEmpty(t, s.Data)
	assert.Equal(t, 150, s.Data[0])
}

func TestObserveNeverBlocks(t *testing.T) {
	tp := New("bytes", make(chan struct{}))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 10000; i++ {
			tp.Observe(1)
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a full queue")
	}
}

func TestStatsKeepsDirectionsApart(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	stats := NewStats("bytes", done)

	stats.CountInbound(10)
	stats.CountOutbound(3)

	time.Sleep(1500 * time.Millisecond)

	digest := stats.Digest()
	assert.Equal(t, 10, decode(t, digest.Inbound).Total)
	assert.Equal(t, 3, decode(t, digest.Outbound).Total)
}

func TestDigestDuringTransfer(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	stats := NewStats("bytes", done)

	// hammer the counters from another goroutine while digests are taken;
	// every snapshot must still be well formed
	counting := make(chan struct{})
	go func() {
		defer close(counting)
		for i := 0; i < 200; i++ {
			stats.CountInbound(64)
			stats.CountOutbound(16)
			time.Sleep(time.Millisecond)
		}
	}()

	for {
		select {
		case <-counting:
			return
		default:
			digest := stats.Digest()
			decode(t, digest.Inbound)
			decode(t, digest.Outbound)
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestDigestAfterShutdown(t *testing.T) {
	done := make(chan struct{})
	tp := New("bytes", done)

	tp.Observe(42)
	time.Sleep(1500 * time.Millisecond)
	close(done)

	// once the sampler has wound down the digest serves the frozen fields
	finished := make(chan json.RawMessage, 1)
	go func() { finished <- tp.String() }()

	select {
	case raw := <-finished:
		assert.Equal(t, 42, decode(t, raw).Total)
	case <-time.After(2 * time.Second):
		t.Fatal("String blocked after shutdown")
	}
}

func TestResetClearsHistory(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	tp := New("bytes", done)

	tp.Observe(42)
	time.Sleep(1500 * time.Millisecond)
	tp.Reset()

	// the next window starts from zero
	s := decode(t, tp.String())
	assert.Zero(t, s.Total)
	assert.Empty(t, s.Data)
}

func TestResetAfterShutdownDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	tp := New("bytes", done)
	close(done)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		tp.Reset()
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Reset blocked after shutdown")
	}
}

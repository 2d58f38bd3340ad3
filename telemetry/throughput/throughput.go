// Package throughput samples byte counts into per-second buckets so transfer
// rates can be reported without instrumenting the hot path.
package throughput

import (
	"encoding/json"
	"time"
)

const interval = time.Second

type Throughput struct {
	unit       string
	count      int
	workQueue  chan int
	resetChan  chan bool
	digestChan chan chan json.RawMessage

	// closed by the sampler goroutine on exit, so callers that arrive after
	// shutdown read the frozen fields in a defined order
	stopped chan struct{}

	Total int       `json:"total"`
	Unit  string    `json:"unit"`
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
	Data  []int     `json:"data"`
}

func New(unit string, done <-chan struct{}) *Throughput {
	t := Throughput{
		unit:       unit,
		Unit:       unit,
		workQueue:  make(chan int, 64),
		resetChan:  make(chan bool),
		digestChan: make(chan chan json.RawMessage),
		stopped:    make(chan struct{}),
		Start:      time.Now(),
		Stop:       time.Now(),
	}

	go func() {
		defer close(t.stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.Stop = time.Now().UTC()
				t.Total += t.count
				t.Data = append(t.Data, t.count)

				// empty out our current window
				t.count = 0
			case n := <-t.workQueue:
				t.count += n
			case <-t.resetChan:
				t.count = 0
				t.Total = 0
				t.Start = time.Now().UTC()
				t.Stop = time.Now().UTC()
				t.Data = []int{}
			case reply := <-t.digestChan:
				reply <- t.marshal()
			}
		}
	}()

	return &t
}

// Observe counts n units into the current window. Never blocks; a full queue
// drops the observation rather than stalling the caller.
func (t *Throughput) Observe(n int) {
	select {
	case t.workQueue <- n:
	default:
	}
}

func (t *Throughput) Reset() {
	select {
	case t.resetChan <- true:
	case <-t.stopped:
	}
}

// String snapshots the sampler as json. The request runs on the sampler
// goroutine so the fields are never read while a tick is writing them.
func (t *Throughput) String() json.RawMessage {
	reply := make(chan json.RawMessage, 1)
	select {
	case t.digestChan <- reply:
		return <-reply
	case <-t.stopped:
		return t.marshal()
	}
}

func (t *Throughput) marshal() json.RawMessage {
	if raw, err := json.Marshal(t); err == nil {
		return raw
	}
	return json.RawMessage("{}")
}

// Stats pairs an inbound and an outbound sampler for one transfer endpoint
type Stats struct {
	inbound  *Throughput
	outbound *Throughput
}

type Digest struct {
	Inbound  json.RawMessage `json:"inbound"`
	Outbound json.RawMessage `json:"outbound"`
}

func NewStats(unit string, done <-chan struct{}) *Stats {
	return &Stats{
		inbound:  New(unit, done),
		outbound: New(unit, done),
	}
}

func (s *Stats) CountInbound(n int) {
	s.inbound.Observe(n)
}

func (s *Stats) CountOutbound(n int) {
	s.outbound.Observe(n)
}

func (s *Stats) Digest() Digest {
	return Digest{
		Inbound:  s.inbound.String(),
		Outbound: s.outbound.String(),
	}
}

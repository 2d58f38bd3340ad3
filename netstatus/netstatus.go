/*
The netstatus package turns the stream of per-request outcomes the httpio
driver observes into an edge-triggered connectivity signal: one event when the
network appears to go away, one when it comes back. Upstream retry and backoff
policy keys off these edges; this package only detects them.
*/
package netstatus

import (
	"sync/atomic"

	"gopkg.in/tomb.v2"

	"github.com/ShBattsooj/sdk/logger"
)

type Monitor struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	reports chan bool
	events  chan bool

	down atomic.Bool
}

func New(logger *logger.Logger) *Monitor {
	m := &Monitor{
		logger:  logger,
		reports: make(chan bool, 16),
		events:  make(chan bool, 8),
	}
	m.tmb.Go(m.run)
	return m
}

// Report feeds one connectivity observation. Never blocks; callers hold the
// driver lock.
func (m *Monitor) Report(up bool) {
	select {
	case m.reports <- up:
	default:
	}
}

// Events delivers the up/down edges, duplicates already filtered out. The
// channel closes when the monitor shuts down.
func (m *Monitor) Events() <-chan bool {
	return m.events
}

// Down reports whether the last observed edge was a loss of connectivity
func (m *Monitor) Down() bool {
	return m.down.Load()
}

func (m *Monitor) Close() {
	m.tmb.Kill(nil)
	m.tmb.Wait()
}

func (m *Monitor) run() error {
	for {
		select {
		case <-m.tmb.Dying():
			close(m.events)
			return nil
		case up := <-m.reports:
			if m.down.Load() != up {
				continue
			}
			m.down.Store(!up)

			if up {
				m.logger.Infof("Network connectivity restored")
			} else {
				m.logger.Infof("Network connectivity lost")
			}

			select {
			case m.events <- up:
			default:
				// a slow consumer misses intermediate edges, never the state
			}
		}
	}
}

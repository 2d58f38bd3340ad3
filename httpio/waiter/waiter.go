/*
The waiter package is the handoff point between the httpio driver and the
application's event loop. The driver registers a wakeup channel plus the lock
that guards its shared state; the waiter parks the application goroutine with
the lock released so that transport callbacks can make progress, and returns
with the lock re-acquired once any registered source fires.
*/
package waiter

import (
	"reflect"
	"sync"
	"time"
)

type Waiter interface {
	AddWakeup(ch <-chan struct{})
	AddLock(mu *sync.Mutex)
}

// EventWaiter is a minimal Waiter for applications that have no event loop of
// their own. Wait must be called with the registered lock held.
type EventWaiter struct {
	mu      *sync.Mutex
	wakeups []<-chan struct{}
}

func New() *EventWaiter {
	return &EventWaiter{}
}

func (w *EventWaiter) AddWakeup(ch <-chan struct{}) {
	w.wakeups = append(w.wakeups, ch)
}

func (w *EventWaiter) AddLock(mu *sync.Mutex) {
	w.mu = mu
}

// Wait parks until any wakeup source fires or the timeout elapses, releasing
// the registered lock for the duration of the park. A timeout of zero waits
// indefinitely.
func (w *EventWaiter) Wait(timeout time.Duration) {
	cases := make([]reflect.SelectCase, 0, len(w.wakeups)+1)
	for _, ch := range w.wakeups {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ch),
		})
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timer.C),
		})
	}

	if w.mu != nil {
		w.mu.Unlock()
		defer w.mu.Lock()
	}

	reflect.Select(cases)
}

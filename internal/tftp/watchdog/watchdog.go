// Package watchdog drives per-session retransmission and idle timeout using
// one goroutine per session: a one-second tick loop tracks idle time,
// retransmitting every RetransmitInterval and tearing the session down at
// IdleTimeout, with reset/stop signaled over channels rather than a shared
// flag.
package watchdog

import (
	"sync"
	"time"
)

// RetransmitInterval is how often an idle session's last datagram is
// resent.
const RetransmitInterval = 5 * time.Second

// IdleTimeout is how long a session may go without inbound traffic before
// it is torn down.
const IdleTimeout = 25 * time.Second

// tickInterval is the watchdog's internal granularity; RetransmitInterval
// and IdleTimeout are both whole multiples of it.
const tickInterval = 1 * time.Second

// Watchdog is a per-session idle timer. It calls Retransmit every
// RetransmitInterval of inactivity and Timeout once IdleTimeout is reached,
// then stops itself.
type Watchdog struct {
	resetCh  chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a watchdog goroutine that invokes retransmit on each
// retransmit boundary and timeout exactly once, after which the goroutine
// exits. Both callbacks run on the watchdog goroutine, not the caller's.
func New(retransmit func(), timeout func()) *Watchdog {
	w := &Watchdog{
		resetCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run(retransmit, timeout)
	return w
}

func (w *Watchdog) run(retransmit func(), timeout func()) {
	defer close(w.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	idle := time.Duration(0)
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.resetCh:
			idle = 0
		case <-ticker.C:
			idle += tickInterval
			if idle >= IdleTimeout {
				timeout()
				return
			}
			if idle > 0 && idle%RetransmitInterval == 0 {
				retransmit()
			}
		}
	}
}

// Reset zeroes the idle counter; called whenever the session observes
// inbound traffic.
func (w *Watchdog) Reset() {
	select {
	case w.resetCh <- struct{}{}:
	default:
		// A reset is already pending and will be observed before the next
		// tick; coalescing is fine since Reset only ever zeroes a counter.
	}
}

// Stop terminates the watchdog goroutine. Idempotent: a second Stop is a
// no-op rather than a panic on an already-closed channel.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

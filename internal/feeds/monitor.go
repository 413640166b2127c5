// Package feeds holds the pieces the two streaming feeds share: the
// market monitor that gates their connection lifecycle and the
// subscription set tracking wire-level state.
package feeds

import (
	"sync"
	"time"
)

// CheckInterval is how often a feed re-evaluates whether it should be
// connected.
const CheckInterval = 60 * time.Second

// Monitor runs a check function immediately and then on a fixed
// interval until stopped. The immediate first run closes the cold-start
// gap between process start and the first tick.
type Monitor struct {
	interval time.Duration
	check    func()

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor builds a monitor; Start launches it.
func NewMonitor(interval time.Duration, check func()) *Monitor {
	return &Monitor{
		interval: interval,
		check:    check,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the monitor loop in the background; repeated calls
// are no-ops.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)

	m.check()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Stop halts the loop and waits for it to exit. Safe to call more than
// once or before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}

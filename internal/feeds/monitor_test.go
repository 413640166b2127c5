package feeds

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorFiresImmediatelyThenTicks(t *testing.T) {
	var count atomic.Int32
	m := NewMonitor(10*time.Millisecond, func() { count.Add(1) })
	m.Start()

	require.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond,
		"first check fires without waiting for the interval")
	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)

	m.Stop()
	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "no checks after stop")
}

func TestMonitorStopIdempotent(t *testing.T) {
	m := NewMonitor(time.Hour, func() {})
	m.Start()
	m.Stop()
	assert.NotPanics(t, func() { m.Stop() })
}

func TestSetSubscribeDiff(t *testing.T) {
	s := NewSet()

	first := s.Diff([]string{"a", "b"})
	assert.Equal(t, []string{"A", "B"}, first)
	s.MarkActive(first)

	second := s.Diff([]string{"b", "c"})
	assert.Equal(t, []string{"C"}, second, "already-subscribed symbols are not re-issued")
	s.MarkActive(second)

	assert.Equal(t, []string{"A", "B", "C"}, s.All())
}

func TestSetPendingDrain(t *testing.T) {
	s := NewSet()
	s.MarkPending([]string{"AAPL", "TSLA"})
	assert.Equal(t, []string{"AAPL", "TSLA"}, s.All())

	s.MarkActive(s.All())
	assert.Empty(t, s.Diff([]string{"aapl"}))

	s.Reset()
	assert.Equal(t, []string{"AAPL", "TSLA"}, s.All(), "reset retains symbols as pending")
	assert.Empty(t, s.Remove([]string{"AAPL"}), "pending symbols were not on the wire")
	assert.Equal(t, []string{"TSLA"}, s.All())
}

func TestSetRemoveReturnsActive(t *testing.T) {
	s := NewSet()
	s.MarkActive([]string{"A"})
	s.MarkPending([]string{"B"})

	wasActive := s.Remove([]string{"a", "b", "c"})
	assert.Equal(t, []string{"A"}, wasActive)
	assert.Zero(t, s.Len())
}

// Package pps watches the board's one-pulse-per-second output on a GPIO
// line and aligns board time to the edge.
package pps

import (
	"sync"
	"time"
)

// Edge is one captured pulse.
type Edge struct {
	Host  time.Time `json:"host"`
	Seqno uint32    `json:"seqno"`
}

// Monitor records pulse edges. It is safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	last  Edge
	count uint64
	// maxAge bounds how old an edge may be to align a board second.
	maxAge time.Duration
}

func NewMonitor() *Monitor {
	return &Monitor{maxAge: 1100 * time.Millisecond}
}

// Record stores an edge; edges with a host time older than the last one
// are ignored.
func (m *Monitor) Record(e Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.last.Host.IsZero() && e.Host.Before(m.last.Host) {
		return
	}
	m.last = e
	m.count++
}

// Last returns the newest edge; ok is false before the first one.
func (m *Monitor) Last() (Edge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.count > 0
}

func (m *Monitor) Count() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Align returns the host time of the pulse that marked the start of the
// board second containing board. It fails when no pulse arrived within
// the second before now.
func (m *Monitor) Align(board, now time.Time) (clock, host time.Time, ok bool) {
	e, ok := m.Last()
	if !ok || now.Sub(e.Host) > m.maxAge || now.Before(e.Host) {
		return time.Time{}, time.Time{}, false
	}
	return board.Truncate(time.Second), e.Host, true
}

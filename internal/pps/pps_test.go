package pps

import (
	"testing"
	"time"
)

func TestMonitor_RecordAndLast(t *testing.T) {
	m := NewMonitor()
	if _, ok := m.Last(); ok {
		t.Fatalf("Last() ok before any edge")
	}
	t0 := time.Date(2021, 3, 14, 22, 10, 4, 2_000_000, time.UTC)
	m.Record(Edge{Host: t0, Seqno: 1})
	m.Record(Edge{Host: t0.Add(-time.Second), Seqno: 0})
	e, ok := m.Last()
	if !ok || !e.Host.Equal(t0) || e.Seqno != 1 {
		t.Fatalf("Last()=%+v,%v", e, ok)
	}
	if m.Count() != 1 {
		t.Fatalf("count=%d want 1", m.Count())
	}
}

func TestMonitor_Align(t *testing.T) {
	m := NewMonitor()
	edge := time.Date(2021, 3, 14, 22, 10, 4, 2_000_000, time.UTC)
	board := time.Date(2021, 3, 14, 22, 10, 4, 0, time.UTC)
	m.Record(Edge{Host: edge})

	clock, host, ok := m.Align(board.Add(300*time.Millisecond), edge.Add(400*time.Millisecond))
	if !ok {
		t.Fatalf("Align() not ok")
	}
	if !clock.Equal(board) || !host.Equal(edge) {
		t.Fatalf("clock=%s host=%s", clock, host)
	}

	if _, _, ok := m.Align(board, edge.Add(2*time.Second)); ok {
		t.Fatalf("stale edge aligned")
	}
	if _, _, ok := NewMonitor().Align(board, edge); ok {
		t.Fatalf("aligned without edges")
	}
}

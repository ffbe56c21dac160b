//go:build linux

package pps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Line is an open PPS input.
type Line struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// Open requests lineName (e.g. "GPIO18") for rising-edge events and feeds
// them to m. chipPath may be empty to search every /dev/gpiochip*.
func Open(chipPath, lineName string, m *Monitor) (*Line, error) {
	if strings.TrimSpace(lineName) == "" {
		return nil, fmt.Errorf("pps: line name is required")
	}
	candidates := []string{chipPath}
	if chipPath == "" {
		candidates = nil
		entries, _ := os.ReadDir("/dev")
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "gpiochip") {
				candidates = append(candidates, filepath.Join("/dev", e.Name()))
			}
		}
	}

	handler := func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventRisingEdge {
			return
		}
		// The realtime event clock makes Timestamp an offset from the epoch.
		m.Record(Edge{Host: time.Unix(0, int64(evt.Timestamp)).UTC(), Seqno: evt.Seqno})
	}

	for _, path := range candidates {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithRealtimeEventClock,
			gpiocdev.WithEventHandler(handler),
			gpiocdev.WithConsumer("mb500-pps"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &Line{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("pps: gpio line %q not found (or busy)", lineName)
}

func (l *Line) Close() error {
	if l == nil || l.line == nil {
		return nil
	}
	err := l.line.Close()
	l.line = nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}

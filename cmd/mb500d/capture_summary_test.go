package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/replay"
)

func TestSummarizeCapture(t *testing.T) {
	recs := []replay.Record{
		{At: 0},
		{At: time.Second, Frame: ggaFrame},
		{At: 10 * time.Second},
		{At: 12 * time.Second, Frame: nmeaLine("GLGSV,1,1,01,66,40,120,45")},
		{At: 13 * time.Second, Frame: []byte("$GPGGA,101010.00*00\r\n")},
		{At: 14 * time.Second, Frame: []byte("$PASHR,ACK*3D\r\n")},
		{At: 15 * time.Second, Frame: nmeaLine("GPRMC,101010.00,A")},
	}

	s := summarizeCapture(recs)
	if s.Segments != 2 || s.Frames != 5 || s.BadChecksum != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s.MaxDuration != 5*time.Second {
		t.Fatalf("max_duration=%s want 5s", s.MaxDuration)
	}
	want := map[string]int{"GPGGA": 1, "GLGSV": 1, "PASHR,ACK": 1, "GPRMC": 1}
	if len(s.SentenceCount) != len(want) {
		t.Fatalf("counts=%v", s.SentenceCount)
	}
	for k, v := range want {
		if s.SentenceCount[k] != v {
			t.Fatalf("counts[%s]=%d want %d (all=%v)", k, s.SentenceCount[k], v, s.SentenceCount)
		}
	}
}

func TestSummarizeCapture_NoStartMarker(t *testing.T) {
	s := summarizeCapture([]replay.Record{{At: 2 * time.Second, Frame: gstFrame}})
	if s.Segments != 1 || s.Frames != 1 || s.SentenceCount["GPGST"] != 1 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestPrintCaptureSummary(t *testing.T) {
	path := writeCapture(t, ggaFrame, gstFrame, ggaFrame)

	var buf bytes.Buffer
	if err := printCaptureSummary(&buf, path); err != nil {
		t.Fatalf("printCaptureSummary() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"path: " + path + "\n",
		"segments: 1\n",
		"frames: 3\n",
		"bad_checksum: 0\n",
		"sentence_counts:\n  GPGGA: 2\n  GPGST: 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintCaptureSummary_EmptyPath(t *testing.T) {
	if err := printCaptureSummary(&bytes.Buffer{}, "  "); err == nil {
		t.Fatalf("expected error")
	}
}

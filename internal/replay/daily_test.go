package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriter_RotatesPerDay(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2021, 3, 14, 23, 59, 58, 0, time.UTC)
	dw := newDailyWriter(dir, func() time.Time { return now })
	t.Cleanup(func() { _ = dw.Close() })

	if err := dw.WriteFrame(now, []byte("a")); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	first := dw.Path()
	if filepath.Base(first) != "capture.2021-03-14.log" {
		t.Fatalf("path=%q", first)
	}

	dw.endOfDay()
	if dw.Path() != "" {
		t.Fatalf("file still open after end of day")
	}

	now = now.Add(3 * time.Second)
	if err := dw.WriteFrame(now, []byte("b")); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if filepath.Base(dw.Path()) != "capture.2021-03-15.log" {
		t.Fatalf("path=%q", dw.Path())
	}
	if err := dw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	b, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.HasPrefix(string(b), "START\n") || !strings.HasSuffix(string(b), ",61\n") {
		t.Fatalf("contents=%q", b)
	}
}

func TestDailyWriter_RollsWithoutCron(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2021, 3, 14, 12, 0, 0, 0, time.UTC)
	dw := newDailyWriter(dir, func() time.Time { return now })
	t.Cleanup(func() { _ = dw.Close() })

	_ = dw.WriteFrame(now, []byte("a"))
	now = now.Add(24 * time.Hour)
	_ = dw.WriteFrame(now, []byte("b"))

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
}

func TestNewDailyWriter(t *testing.T) {
	dw, err := NewDailyWriter(filepath.Join(t.TempDir(), "captures"))
	if err != nil {
		t.Fatalf("NewDailyWriter() error: %v", err)
	}
	if err := dw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

package replay

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron"
)

// DailyWriter writes captures to one file per UTC day,
// <dir>/capture.YYYY-MM-DD.log. A cron job closes the current file at
// midnight; the first frame of the new day opens the next one.
type DailyWriter struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	day  string
	cur  *Writer
	cron *cron.Cron
}

// NewDailyWriter creates dir and starts the midnight rotation job.
func NewDailyWriter(dir string) (*DailyWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	dw := newDailyWriter(dir, time.Now)
	dw.cron = cron.NewWithLocation(time.UTC)
	if err := dw.cron.AddFunc("0 0 0 * * *", dw.endOfDay); err != nil {
		return nil, fmt.Errorf("schedule capture rotation: %w", err)
	}
	dw.cron.Start()
	return dw, nil
}

func newDailyWriter(dir string, now func() time.Time) *DailyWriter {
	return &DailyWriter{dir: dir, now: now}
}

func fileName(day string) string {
	return "capture." + day + ".log"
}

// WriteFrame records frame in today's file.
func (dw *DailyWriter) WriteFrame(now time.Time, frame []byte) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	day := dw.now().UTC().Format("2006-01-02")
	if dw.cur == nil || day != dw.day {
		if dw.cur != nil {
			_ = dw.cur.Close()
		}
		w, err := CreateWriter(filepath.Join(dw.dir, fileName(day)))
		if err != nil {
			dw.cur = nil
			return fmt.Errorf("open capture: %w", err)
		}
		log.Printf("capture file opened path=%s", w.Name())
		dw.cur, dw.day = w, day
	}
	return dw.cur.WriteFrame(now, frame)
}

func (dw *DailyWriter) endOfDay() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.cur == nil {
		return
	}
	if err := dw.cur.Close(); err != nil {
		log.Printf("capture close failed path=%s err=%v", dw.cur.Name(), err)
	}
	dw.cur = nil
}

// Path is the file currently written, or "" between days.
func (dw *DailyWriter) Path() string {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.cur == nil {
		return ""
	}
	return dw.cur.Name()
}

func (dw *DailyWriter) Flush() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.cur == nil {
		return nil
	}
	return dw.cur.Flush()
}

func (dw *DailyWriter) Close() error {
	if dw.cron != nil {
		dw.cron.Stop()
	}
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.cur == nil {
		return nil
	}
	err := dw.cur.Close()
	dw.cur = nil
	return err
}

package correction

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/frame"
)

const (
	DefaultWriteTimeout = time.Second
	DefaultReadTimeout  = time.Second
	DefaultReportEvery  = time.Minute
)

// Sink accepts correction bytes for the board.
type Sink interface {
	WriteCorrectionData(p []byte, timeout time.Duration) error
}

// Source yields raw correction bytes from the board.
type Source interface {
	ReadRaw(timeout time.Duration) ([]byte, error)
}

// Relay moves corrections in one direction. With Verify set only complete
// RTCM3 frames with a valid CRC are forwarded.
type Relay struct {
	Verify       bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReportEvery  time.Duration

	scanner Scanner
	total   atomic.Uint64
	pending atomic.Uint64
	frames  atomic.Uint64
}

// Total is the number of bytes forwarded since start.
func (r *Relay) Total() uint64 { return r.total.Load() }

// Frames is the number of verified RTCM3 frames forwarded.
func (r *Relay) Frames() uint64 { return r.frames.Load() }

// TakeBytes returns the bytes forwarded since the previous call.
func (r *Relay) TakeBytes() uint64 { return r.pending.Swap(0) }

func (r *Relay) readTimeout() time.Duration {
	if r.ReadTimeout > 0 {
		return r.ReadTimeout
	}
	return DefaultReadTimeout
}

func (r *Relay) writeTimeout() time.Duration {
	if r.WriteTimeout > 0 {
		return r.WriteTimeout
	}
	return DefaultWriteTimeout
}

// filter returns what should be forwarded for p.
func (r *Relay) filter(p []byte) [][]byte {
	if !r.Verify {
		return [][]byte{p}
	}
	frames := r.scanner.Feed(p)
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Raw)
	}
	return out
}

func (r *Relay) count(n int) {
	r.total.Add(uint64(n))
	r.pending.Add(uint64(n))
	if r.Verify {
		r.frames.Add(1)
	}
}

// ScannerStats reports frame verification counters when Verify is set.
// It must be called from the goroutine running the relay.
func (r *Relay) ScannerStats() ScannerStats { return r.scanner.Stats() }

// RunInbound reads datagrams from conn and writes them to the board until
// ctx ends or conn fails.
func (r *Relay) RunInbound(ctx context.Context, conn net.PacketConn, sink Sink) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(r.readTimeout())); err != nil {
			return err
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, c := range r.filter(buf[:n]) {
			if err := sink.WriteCorrectionData(c, r.writeTimeout()); err != nil {
				return err
			}
			r.count(len(c))
		}
	}
}

// RunOutbound copies board output to dst until ctx ends, logging the byte
// rate every ReportEvery.
func (r *Relay) RunOutbound(ctx context.Context, src Source, dst io.Writer) error {
	every := r.ReportEvery
	if every <= 0 {
		every = DefaultReportEvery
	}
	lastReport := time.Now()
	var sinceReport uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(lastReport) >= every {
			log.Printf("correction output bytes=%d interval=%s total=%d", sinceReport, every, r.Total())
			sinceReport = 0
			lastReport = time.Now()
		}
		p, err := src.ReadRaw(r.readTimeout())
		if errors.Is(err, frame.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		for _, c := range r.filter(p) {
			if _, err := dst.Write(c); err != nil {
				return err
			}
			r.count(len(c))
			sinceReport += uint64(len(c))
		}
	}
}

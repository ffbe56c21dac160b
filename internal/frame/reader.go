package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when no complete frame arrived in time. It is a
// retryable condition, not a protocol failure.
var ErrTimeout = errors.New("frame: read timed out")

// DefaultMaxBuffer bounds the pending receive buffer.
const DefaultMaxBuffer = 2048

// Port is the byte transport under a Reader. Implementations may also
// provide SetReadTimeout, SetReadDeadline or SetWriteDeadline; the Reader
// uses whichever is available.
type Port interface {
	io.Reader
	io.Writer
}

type readTimeouter interface {
	SetReadTimeout(d time.Duration) error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stats counts what the Reader has seen since creation.
type Stats struct {
	Frames       uint64 `json:"frames"`
	GarbageBytes uint64 `json:"garbage_bytes"`
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`
}

// Reader owns the receive buffer for one Port. ReadFrame must be called from
// a single goroutine; Write may be called concurrently with it.
type Reader struct {
	port      Port
	maxBuffer int
	now       func() time.Time

	buf     []byte
	scratch []byte

	wmu sync.Mutex

	frames  atomic.Uint64
	garbage atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
}

func NewReader(port Port) *Reader {
	return NewReaderSize(port, DefaultMaxBuffer)
}

func NewReaderSize(port Port, maxBuffer int) *Reader {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Reader{
		port:      port,
		maxBuffer: maxBuffer,
		now:       time.Now,
		buf:       make([]byte, 0, maxBuffer),
		scratch:   make([]byte, 512),
	}
}

// ReadFrame returns the next complete frame, including its `\r\n`, or
// ErrTimeout. Transport errors other than timeouts are returned unchanged.
func (r *Reader) ReadFrame(timeout time.Duration) ([]byte, error) {
	deadline := r.now().Add(timeout)
	for {
		if f, ok := r.next(); ok {
			return f, nil
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if err := r.setReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}

		n, err := r.port.Read(r.scratch)
		if n > 0 {
			r.read.Add(uint64(n))
			r.append(r.scratch[:n])
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if n > 0 && errors.Is(err, io.EOF) {
				// Drain what was delivered before reporting EOF.
				if f, ok := r.next(); ok {
					return f, nil
				}
			}
			return nil, err
		}
	}
}

// next applies Extract to the pending buffer until it yields a frame or
// needs more bytes.
func (r *Reader) next() ([]byte, bool) {
	for len(r.buf) > 0 {
		d, n := Extract(r.buf)
		switch d {
		case Complete:
			f := append([]byte(nil), r.buf[:n]...)
			r.consume(n)
			r.frames.Add(1)
			return f, true
		case Garbage:
			r.consume(n)
			r.garbage.Add(uint64(n))
		default:
			return nil, false
		}
	}
	return nil, false
}

func (r *Reader) consume(n int) {
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
}

func (r *Reader) append(p []byte) {
	r.buf = append(r.buf, p...)
	if over := len(r.buf) - r.maxBuffer; over > 0 {
		r.consume(over)
		r.garbage.Add(uint64(over))
	}
}

func (r *Reader) setReadTimeout(d time.Duration) error {
	switch p := r.port.(type) {
	case readTimeouter:
		return p.SetReadTimeout(d)
	case readDeadliner:
		return p.SetReadDeadline(r.now().Add(d))
	}
	return nil
}

// ReadRaw returns pending bytes without framing: first anything already
// buffered, otherwise one port read. Used for non-NMEA output such as
// RTCM corrections and parameter dumps.
func (r *Reader) ReadRaw(timeout time.Duration) ([]byte, error) {
	if len(r.buf) > 0 {
		out := append([]byte(nil), r.buf...)
		r.buf = r.buf[:0]
		return out, nil
	}
	if err := r.setReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	n, err := r.port.Read(r.scratch)
	if n > 0 {
		r.read.Add(uint64(n))
		return append([]byte(nil), r.scratch[:n]...), nil
	}
	if err == nil || isTimeout(err) {
		return nil, ErrTimeout
	}
	return nil, err
}

// Write sends p in full, bounded by timeout when the port supports write
// deadlines.
func (r *Reader) Write(p []byte, timeout time.Duration) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	if wd, ok := r.port.(writeDeadliner); ok && timeout > 0 {
		if err := wd.SetWriteDeadline(r.now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
	}

	for len(p) > 0 {
		n, err := r.port.Write(p)
		r.written.Add(uint64(n))
		if err != nil {
			if isTimeout(err) {
				return ErrTimeout
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Buffered reports how many bytes are waiting for a frame boundary.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

func (r *Reader) Stats() Stats {
	return Stats{
		Frames:       r.frames.Load(),
		GarbageBytes: r.garbage.Load(),
		BytesRead:    r.read.Load(),
		BytesWritten: r.written.Load(),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

var ackFrame = []byte("$PASHR,ACK*3D\r\n")

type PortOptions struct {
	// Speed scales the recorded gaps: 2 plays twice as fast. Zero means 1.
	Speed float64
	// Loop restarts the capture at its end instead of returning io.EOF.
	Loop bool
	// AutoAck answers every $PASHS command written to the port with an
	// ACK, so a driver can run its setup sequence against a capture.
	AutoAck bool
	Sleeper Sleeper
}

// Port plays a capture back as a board connection, keeping the recorded
// timing between frames. START markers reset the origin.
type Port struct {
	mu   sync.Mutex
	recs []Record
	opts PortOptions

	idx      int
	origin   time.Duration
	lastAt   time.Duration
	haveLast bool
	pending  []byte
	closed   bool

	written int
}

func NewPort(recs []Record, opts PortOptions) (*Port, error) {
	if opts.Speed < 0 {
		return nil, fmt.Errorf("replay speed must be > 0")
	}
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Sleeper == nil {
		opts.Sleeper = realSleeper{}
	}
	frames := 0
	for _, r := range recs {
		if r.Frame != nil {
			frames++
		}
	}
	if frames == 0 {
		return nil, errors.New("capture holds no frames")
	}
	return &Port{recs: recs, opts: opts}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.pending) == 0 {
		f, err := p.nextLocked()
		if err != nil {
			return 0, err
		}
		p.pending = append(p.pending, f...)
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// nextLocked waits out the recorded gap and returns the next frame.
func (p *Port) nextLocked() ([]byte, error) {
	for {
		if p.idx >= len(p.recs) {
			if !p.opts.Loop {
				return nil, io.EOF
			}
			p.idx, p.origin, p.lastAt, p.haveLast = 0, 0, 0, false
		}
		r := p.recs[p.idx]
		p.idx++
		if r.Frame == nil {
			p.origin, p.lastAt, p.haveLast = r.At, 0, false
			continue
		}
		at := r.At - p.origin
		if at < 0 {
			at = 0
		}
		if p.haveLast {
			if wait := time.Duration(float64(at-p.lastAt) / p.opts.Speed); wait > 0 {
				p.opts.Sleeper.Sleep(wait)
			}
		}
		p.lastAt, p.haveLast = at, true
		return r.Frame, nil
	}
}

// Write discards commands, answering $PASHS ones when AutoAck is set.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.written += len(b)
	if p.opts.AutoAck {
		for i := bytes.Count(b, []byte("$PASHS,")); i > 0; i-- {
			p.pending = append(p.pending, ackFrame...)
		}
	}
	return len(b), nil
}

// Written is the number of bytes written to the port.
func (p *Port) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

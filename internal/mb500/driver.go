// Package mb500 drives an Ashtech/Magellan MB500 board: the $PASHS
// command/acknowledge handshake, queries, and the synchronizer that turns
// the periodic NMEA output into time-matched fixes.
package mb500

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/frame"
	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

const (
	DefaultAcquisitionTimeout = 2 * time.Second
	DefaultAckTimeout         = 5 * time.Second
	DefaultWriteTimeout       = time.Second

	boardResetWindow      = 10 * time.Second
	boardResetPollTimeout = 200 * time.Millisecond
	minAcquisitionTimeout = 500 * time.Millisecond
)

// Options tune a Driver. Zero values select the defaults.
type Options struct {
	// AcquisitionTimeout bounds a single frame read.
	AcquisitionTimeout time.Duration
	// AckTimeout bounds the whole wait for an acknowledge or query reply.
	AckTimeout   time.Duration
	WriteTimeout time.Duration

	// VerifyChecksum drops frames whose checksum does not match.
	VerifyChecksum bool
	Promotion      nmea.PromotionPolicy

	// Now is the wall clock; defaults to time.Now.
	Now func() time.Time
	// Tap, when set, sees every frame read from the board.
	Tap func(now time.Time, frame []byte)
}

// Stats is a snapshot of driver counters.
type Stats struct {
	frame.Stats
	ChecksumErrors uint64 `json:"checksum_errors"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Rejected       uint64 `json:"rejected"`
	Fixes          uint64 `json:"fixes"`
	MissedResets   uint64 `json:"missed_resets"`
}

// Driver owns one board connection. ReadOnce, Next and the command methods
// must be called from one goroutine; WriteCorrectionData may be called
// from another.
type Driver struct {
	r      *frame.Reader
	closer io.Closer
	opts   Options
	sync   *Synchronizer

	acqTimeout time.Duration

	checksumErrors atomic.Uint64
	decodeErrors   atomic.Uint64
	rejected       atomic.Uint64
	fixes          atomic.Uint64
	missedResets   atomic.Uint64
}

// New wraps port. If port implements io.Closer, Close closes it.
func New(port frame.Port, opts Options) *Driver {
	if opts.AcquisitionTimeout <= 0 {
		opts.AcquisitionTimeout = DefaultAcquisitionTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Driver{
		r:          frame.NewReader(port),
		opts:       opts,
		sync:       NewSynchronizer(opts.Promotion),
		acqTimeout: opts.AcquisitionTimeout,
	}
	if c, ok := port.(io.Closer); ok {
		d.closer = c
	}
	return d
}

func (d *Driver) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func (d *Driver) now() time.Time { return d.opts.Now().UTC() }

// Synchronizer exposes the latched navigation state. It is owned by the
// goroutine that calls ReadOnce.
func (d *Driver) Synchronizer() *Synchronizer { return d.sync }

// AcquisitionTimeout is the current per-read timeout; SetProcessingRate
// changes it.
func (d *Driver) AcquisitionTimeout() time.Duration { return d.acqTimeout }

func (d *Driver) Stats() Stats {
	return Stats{
		Stats:          d.r.Stats(),
		ChecksumErrors: d.checksumErrors.Load(),
		DecodeErrors:   d.decodeErrors.Load(),
		Rejected:       d.rejected.Load(),
		Fixes:          d.fixes.Load(),
		MissedResets:   d.missedResets.Load(),
	}
}

// readFrame returns one frame as a string, dropping frames with a bad
// checksum when verification is on.
func (d *Driver) readFrame(timeout time.Duration) (string, error) {
	deadline := d.now().Add(timeout)
	for {
		b, err := d.r.ReadFrame(deadline.Sub(d.now()))
		if err != nil {
			return "", err
		}
		if d.opts.Tap != nil {
			d.opts.Tap(d.now(), b)
		}
		f := string(b)
		if d.opts.VerifyChecksum {
			if err := nmea.VerifyChecksum(f); err != nil {
				d.checksumErrors.Add(1)
				continue
			}
		}
		return f, nil
	}
}

// ReadOnce reads one frame and feeds it to the synchronizer. It returns
// frame.ErrTimeout when nothing arrived in time.
func (d *Driver) ReadOnce(timeout time.Duration) (nmea.Kind, error) {
	f, err := d.readFrame(timeout)
	if err != nil {
		return nmea.KindUnknown, err
	}
	kind, err := d.sync.Process(f, d.now())
	if err != nil {
		d.decodeErrors.Add(1)
	}
	return kind, err
}

// Next reads until the synchronizer reports a new fix. Decode errors are
// logged and skipped; timeouts are retried until ctx ends.
func (d *Driver) Next(ctx context.Context) (gnss.Fix, error) {
	for {
		if err := ctx.Err(); err != nil {
			return gnss.Fix{}, err
		}
		_, err := d.ReadOnce(d.acqTimeout)
		var de *nmea.DecodeError
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrTimeout):
			continue
		case errors.As(err, &de):
			log.Printf("mb500 decode failed: %v", err)
			continue
		default:
			return gnss.Fix{}, err
		}
		if fix, ok := d.sync.Ready(); ok {
			d.fixes.Add(1)
			return fix, nil
		}
	}
}

// ReadRaw returns undecoded bytes from the board, for correction output.
func (d *Driver) ReadRaw(timeout time.Duration) ([]byte, error) {
	return d.r.ReadRaw(timeout)
}

// WriteCorrectionData forwards differential corrections to the board.
func (d *Driver) WriteCorrectionData(p []byte, timeout time.Duration) error {
	if err := d.r.Write(p, timeout); err != nil {
		return fmt.Errorf("mb500: write correction data: %w", err)
	}
	return nil
}

// awaitBoardReset is waitForBoardReset plus a record of boards that stay
// silent.
func (d *Driver) awaitBoardReset(ctx context.Context) {
	if d.waitForBoardReset(ctx) || ctx.Err() != nil {
		return
	}
	d.missedResets.Add(1)
	log.Printf("mb500 board reset not observed window=%s", boardResetWindow)
}

// waitForBoardReset waits up to ten seconds for the board to emit anything
// after a reset.
func (d *Driver) waitForBoardReset(ctx context.Context) bool {
	start := d.now()
	for d.now().Sub(start) < boardResetWindow {
		if ctx.Err() != nil {
			return false
		}
		_, err := d.readFrame(boardResetPollTimeout)
		if err == nil {
			return true
		}
		if !errors.Is(err, frame.ErrTimeout) {
			return false
		}
	}
	return false
}

// Package ntpshm feeds board time to ntpd through its shared-memory
// reference clock driver (type 28, units NTP0-NTP3).
package ntpshm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// KeyBase is "NTP0"; unit n uses KeyBase+n.
const KeyBase = 0x4e545030

// Precision is log2 of the advertised clock precision in seconds.
const Precision = -20

// shmTime layout on 64-bit hosts.
const (
	offMode      = 0
	offCount     = 4
	offClockSec  = 8
	offClockUSec = 16
	offRecvSec   = 24
	offRecvUSec  = 32
	offLeap      = 36
	offPrecision = 40
	offNSamples  = 44
	offValid     = 48
	offClockNSec = 52
	offRecvNSec  = 56

	segmentSize = 96
)

// Key returns the System V key of unit.
func Key(unit int) (int, error) {
	if unit < 0 || unit > 3 {
		return 0, fmt.Errorf("ntp shm unit %d out of range 0-3", unit)
	}
	return KeyBase + unit, nil
}

// segment is the shmTime record in attached memory.
type segment []byte

func (s segment) putInt32(off int, v int32) { binary.NativeEndian.PutUint32(s[off:], uint32(v)) }
func (s segment) putInt64(off int, v int64) { binary.NativeEndian.PutUint64(s[off:], uint64(v)) }
func (s segment) getInt32(off int) int32    { return int32(binary.NativeEndian.Uint32(s[off:])) }
func (s segment) getInt64(off int) int64    { return int64(binary.NativeEndian.Uint64(s[off:])) }

// reset selects mode 1 (count-checked reads) and clears the sample.
func (s segment) reset() {
	s.putInt32(offValid, 0)
	s.putInt32(offMode, 1)
	s.putInt32(offCount, 0)
}

// store writes one sample using the mode 1 protocol: valid is cleared and
// count bumped before and after the fields change.
func (s segment) store(clock, receive time.Time, leap int) {
	s.putInt32(offValid, 0)
	s.putInt32(offCount, s.getInt32(offCount)+1)

	s.putInt64(offClockSec, clock.Unix())
	s.putInt32(offClockUSec, int32(clock.Nanosecond()/1000))
	s.putInt32(offClockNSec, int32(clock.Nanosecond()))
	s.putInt64(offRecvSec, receive.Unix())
	s.putInt32(offRecvUSec, int32(receive.Nanosecond()/1000))
	s.putInt32(offRecvNSec, int32(receive.Nanosecond()))
	s.putInt32(offLeap, int32(leap))
	s.putInt32(offPrecision, Precision)
	s.putInt32(offNSamples, 0)

	s.putInt32(offCount, s.getInt32(offCount)+1)
	s.putInt32(offValid, 1)
}

// Writer publishes samples to one attached segment.
type Writer struct {
	seg    segment
	unit   int
	detach func() error
}

func newWriter(mem []byte, unit int, detach func() error) (*Writer, error) {
	if len(mem) < segmentSize {
		return nil, fmt.Errorf("ntp shm segment of %d bytes, need %d", len(mem), segmentSize)
	}
	w := &Writer{seg: segment(mem[:segmentSize]), unit: unit, detach: detach}
	w.seg.reset()
	return w, nil
}

// Update publishes the board UTC (clock) and the host time it corresponds
// to (receive).
func (w *Writer) Update(clock, receive time.Time) {
	w.seg.store(clock, receive, 0)
}

func (w *Writer) Unit() int { return w.unit }

func (w *Writer) Close() error {
	if w == nil || w.detach == nil {
		return nil
	}
	err := w.detach()
	w.detach = nil
	return err
}

// Package correction relays RTCM3 differential corrections between the
// board and the network.
package correction

import (
	"errors"
	"fmt"

	"github.com/goblimey/go-crc24q/crc24q"
)

const (
	preamble     = 0xd3
	headerLength = 3
	crcLength    = 3
	maxPayload   = 1023
)

var ErrCRC = errors.New("rtcm3 crc mismatch")

// Frame is one complete RTCM3 transport frame.
type Frame struct {
	Type int
	Raw  []byte
}

// CheckCRC verifies the trailing CRC-24Q of a complete frame.
func CheckCRC(frame []byte) error {
	if len(frame) < headerLength+crcLength {
		return fmt.Errorf("rtcm3 frame of %d bytes: too short", len(frame))
	}
	start := len(frame) - crcLength
	crc := crc24q.Hash(frame[:start])
	if crc24q.HiByte(crc) != frame[start] ||
		crc24q.MiByte(crc) != frame[start+1] ||
		crc24q.LoByte(crc) != frame[start+2] {
		return fmt.Errorf("%w: given %02x%02x%02x calculated %02x%02x%02x", ErrCRC,
			frame[start], frame[start+1], frame[start+2],
			crc24q.HiByte(crc), crc24q.MiByte(crc), crc24q.LoByte(crc))
	}
	return nil
}

// Encode wraps payload in an RTCM3 frame.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("rtcm3 payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	out := make([]byte, 0, headerLength+len(payload)+crcLength)
	out = append(out, preamble, byte(len(payload)>>8)&0x03, byte(len(payload)))
	out = append(out, payload...)
	crc := crc24q.Hash(out)
	return append(out, crc24q.HiByte(crc), crc24q.MiByte(crc), crc24q.LoByte(crc)), nil
}

// messageType is the 12-bit number at the start of the payload.
func messageType(frame []byte) int {
	if len(frame) < headerLength+2 {
		return 0
	}
	return int(frame[3])<<4 | int(frame[4])>>4
}

// ScannerStats counts scanner outcomes.
type ScannerStats struct {
	Frames  uint64 `json:"frames"`
	Corrupt uint64 `json:"corrupt"`
	Skipped uint64 `json:"skipped_bytes"`
}

// Scanner splits a byte stream into RTCM3 frames. Bytes outside frames are
// skipped. A frame whose CRC fails is dropped and scanning resumes at the
// byte after its preamble.
type Scanner struct {
	buf   []byte
	stats ScannerStats
}

// Feed appends p and returns the frames completed by it.
func (s *Scanner) Feed(p []byte) []Frame {
	s.buf = append(s.buf, p...)
	var out []Frame
	for {
		i := 0
		for i < len(s.buf) && s.buf[i] != preamble {
			i++
		}
		s.stats.Skipped += uint64(i)
		s.buf = s.buf[i:]
		if len(s.buf) < headerLength {
			break
		}
		n := int(s.buf[1]&0x03)<<8 | int(s.buf[2])
		if s.buf[1]&0xfc != 0 {
			s.drop()
			continue
		}
		total := headerLength + n + crcLength
		if len(s.buf) < total {
			break
		}
		raw := s.buf[:total]
		if err := CheckCRC(raw); err != nil {
			s.stats.Corrupt++
			s.drop()
			continue
		}
		out = append(out, Frame{Type: messageType(raw), Raw: append([]byte(nil), raw...)})
		s.stats.Frames++
		s.buf = s.buf[total:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out
}

func (s *Scanner) drop() {
	s.stats.Skipped++
	s.buf = s.buf[1:]
}

// Pending is the number of buffered bytes not yet part of a frame.
func (s *Scanner) Pending() int { return len(s.buf) }

func (s *Scanner) Stats() ScannerStats { return s.stats }

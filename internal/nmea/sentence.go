// Package nmea decodes the NMEA-0183 and $PASHR sentences emitted by the
// MB500 and reassembles the multi-sentence GSA/GSV series.
//
// Decoders are pure functions of the frame text and the supplied clock; the
// accumulators are plain values owned by their caller.
package nmea

import (
	"errors"
	"fmt"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
)

var (
	// ErrWrongSentence means a decoder was handed a sentence of another
	// family. Correct dispatch through Classify never produces it.
	ErrWrongSentence = errors.New("wrong sentence type")
	// ErrShortSentence means the sentence has fewer fields than its schema.
	ErrShortSentence = errors.New("too few fields")
	// ErrChecksum means the transmitted checksum does not match the payload.
	ErrChecksum = errors.New("checksum mismatch")
)

// DecodeError carries the offending sentence tag.
type DecodeError struct {
	Tag string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("nmea: decode %s: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind is the sentence family of a frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindGGA
	KindGST
	KindGSA
	KindGSV
	KindZDA
	KindAck
	KindNak
	KindLatency
	KindBoardID
)

func (k Kind) String() string {
	switch k {
	case KindGGA:
		return "GGA"
	case KindGST:
		return "GST"
	case KindGSA:
		return "GSA"
	case KindGSV:
		return "GSV"
	case KindZDA:
		return "ZDA"
	case KindAck:
		return "PASHR,ACK"
	case KindNak:
		return "PASHR,NAK"
	case KindLatency:
		return "PASHR,LTN"
	case KindBoardID:
		return "PASHR,RID"
	default:
		return "unknown"
	}
}

// Talkers.
const (
	TalkerGPS      = "GP"
	TalkerGLONASS  = "GL"
	TalkerCombined = "GN"
)

// Classify returns the family of frame by tag prefix. GGA, GST, GSA and ZDA
// accept the GP, GL and GN talkers; GSV only GP and GL.
func Classify(frame string) Kind {
	switch {
	case strings.HasPrefix(frame, "$PASHR,ACK"):
		return KindAck
	case strings.HasPrefix(frame, "$PASHR,NAK"):
		return KindNak
	case strings.HasPrefix(frame, "$PASHR,LTN,"):
		return KindLatency
	case strings.HasPrefix(frame, "$PASHR,RID,"):
		return KindBoardID
	}

	if len(frame) < 7 || frame[0] != '$' || frame[6] != ',' {
		return KindUnknown
	}
	talker, typ := frame[1:3], frame[3:6]
	switch typ {
	case "GSV":
		if talker == TalkerGPS || talker == TalkerGLONASS {
			return KindGSV
		}
		return KindUnknown
	case "GGA", "GST", "GSA", "ZDA":
	default:
		return KindUnknown
	}
	if talker != TalkerGPS && talker != TalkerGLONASS && talker != TalkerCombined {
		return KindUnknown
	}
	switch typ {
	case "GGA":
		return KindGGA
	case "GST":
		return KindGST
	case "GSA":
		return KindGSA
	default:
		return KindZDA
	}
}

// Talker returns the two-letter talker of a standard sentence, or "" for
// proprietary and malformed frames.
func Talker(frame string) string {
	if len(frame) < 3 || frame[0] != '$' || strings.HasPrefix(frame, "$P") {
		return ""
	}
	return frame[1:3]
}

// Split trims the line terminator and splits on ',' and '*'. Empty values
// keep their slot, so "$PASHR,LTN,60*3B" yields ["$PASHR" "LTN" "60" "3B"].
func Split(frame string) []string {
	frame = strings.TrimRight(frame, "\r\n")
	fields := make([]string, 0, 24)
	start := 0
	for i := 0; i < len(frame); i++ {
		if frame[i] == ',' || frame[i] == '*' {
			fields = append(fields, frame[start:i])
			start = i + 1
		}
	}
	return append(fields, frame[start:])
}

// VerifyChecksum checks the two hex digits after '*' against the XOR of the
// payload between '$' and '*'.
func VerifyChecksum(frame string) error {
	frame = strings.TrimRight(frame, "\r\n")
	star := strings.LastIndexByte(frame, '*')
	if len(frame) < 1 || frame[0] != '$' || star < 1 || len(frame)-star != 3 {
		return fmt.Errorf("nmea: %w: malformed checksum field", ErrChecksum)
	}
	want := frame[star+1:]
	got := gonmea.Checksum(frame[1:star])
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("nmea: %w: sent %s computed %s", ErrChecksum, want, got)
	}
	return nil
}

// Sentence frames body as "$body*CS\r\n".
func Sentence(body string) string {
	return "$" + body + "*" + gonmea.Checksum(body) + "\r\n"
}

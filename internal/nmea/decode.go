package nmea

import (
	"strings"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

// GSA is one satellites-in-use sentence.
type GSA struct {
	Talker string
	Used   []int
	PDOP   float64
	HDOP   float64
	VDOP   float64
}

// GSV is one satellites-in-view sentence.
type GSV struct {
	Talker     string
	Total      int
	Index      int
	InView     int
	Satellites []gnss.Satellite
}

func fieldsFor(frame string, want Kind, minFields int) ([]string, error) {
	if Classify(frame) != want {
		return nil, &DecodeError{Tag: want.String(), Err: ErrWrongSentence}
	}
	f := Split(frame)
	if len(f) < minFields {
		return nil, &DecodeError{Tag: want.String(), Err: ErrShortSentence}
	}
	return f, nil
}

// DecodeGGA decodes a position fix. The time of day is placed on the UTC
// date of now.
//
//	1: time   2,3: latitude,N/S   4,5: longitude,E/W   6: solution code
//	7: satellites   9: altitude   11: geoidal separation   13: correction age
func DecodeGGA(frame string, now time.Time) (gnss.Position, error) {
	f, err := fieldsFor(frame, KindGGA, 14)
	if err != nil {
		return gnss.Position{}, err
	}
	return gnss.Position{
		Time:              TimeOfDay(f[1], now),
		Latitude:          Angle(f[2], f[3] == "N"),
		Longitude:         Angle(f[4], f[5] == "E"),
		Solution:          gnss.SolutionTypeFromCode(parseInt(f[6])),
		Satellites:        parseInt(f[7]),
		Altitude:          parseFloat(f[9]),
		GeoidalSeparation: parseFloat(f[11]),
		DifferentialAge:   parseFloat(f[13]),
	}, nil
}

// DecodeGST decodes the pseudorange error statistics. Fields 6, 7 and 8 are
// the latitude, longitude and altitude 1-sigma errors.
func DecodeGST(frame string, now time.Time) (gnss.Errors, error) {
	f, err := fieldsFor(frame, KindGST, 9)
	if err != nil {
		return gnss.Errors{}, err
	}
	return gnss.Errors{
		Time:         TimeOfDay(f[1], now),
		DevLatitude:  parseFloat(f[6]),
		DevLongitude: parseFloat(f[7]),
		DevAltitude:  parseFloat(f[8]),
	}, nil
}

// DecodeGSA returns the used PRNs (fields 3 up to the DOPs) and the three
// DOP values that precede the checksum.
func DecodeGSA(frame string) (GSA, error) {
	f, err := fieldsFor(frame, KindGSA, 7)
	if err != nil {
		return GSA{}, err
	}
	end := len(f) - 4
	out := GSA{Talker: Talker(frame)}
	for _, v := range f[3:end] {
		if v == "" {
			continue
		}
		out.Used = append(out.Used, parseInt(v))
	}
	out.PDOP = parseFloat(f[end])
	out.HDOP = parseFloat(f[end+1])
	out.VDOP = parseFloat(f[end+2])
	return out, nil
}

// DecodeGSV returns one part of a satellites-in-view series. Every part but
// the last carries four satellites; the last carries the remainder.
func DecodeGSV(frame string) (GSV, error) {
	f, err := fieldsFor(frame, KindGSV, 4)
	if err != nil {
		return GSV{}, err
	}
	out := GSV{
		Talker: Talker(frame),
		Total:  parseInt(f[1]),
		Index:  parseInt(f[2]),
		InView: parseInt(f[3]),
	}

	count := 4
	if out.Index == out.Total {
		count = out.InView - (out.Total-1)*4
	}
	if count > 4 {
		count = 4
	}
	if avail := (len(f) - 4) / 4; count > avail {
		count = avail
	}
	for i := 0; i < count; i++ {
		base := 4 + i*4
		out.Satellites = append(out.Satellites, gnss.Satellite{
			PRN:       parseInt(f[base]),
			Elevation: parseInt(f[base+1]),
			Azimuth:   parseInt(f[base+2]),
			SNR:       parseInt(f[base+3]),
		})
	}
	return out, nil
}

// DecodeZDA returns the board UTC time. Day, month and year are used when
// present and plausible, otherwise the UTC date of now.
func DecodeZDA(frame string, now time.Time) (time.Time, error) {
	f, err := fieldsFor(frame, KindZDA, 3)
	if err != nil {
		return time.Time{}, err
	}
	if len(f) >= 5 {
		d, m, y := parseInt(f[2]), parseInt(f[3]), parseInt(f[4])
		if d >= 1 && d <= 31 && m >= 1 && m <= 12 && y > 0 {
			return timeOnDate(f[1], y, time.Month(m), d), nil
		}
	}
	return TimeOfDay(f[1], now), nil
}

// DecodeLatency returns the processing latency of $PASHR,LTN (field 2, ms).
func DecodeLatency(frame string) (time.Duration, error) {
	f, err := fieldsFor(frame, KindLatency, 3)
	if err != nil {
		return 0, err
	}
	return time.Duration(parseFloat(f[2]) * float64(time.Millisecond)), nil
}

// DecodeAck reports whether frame accepts (ACK) or rejects (NAK) a command.
func DecodeAck(frame string) (bool, error) {
	switch Classify(frame) {
	case KindAck:
		return true, nil
	case KindNak:
		return false, nil
	}
	return false, &DecodeError{Tag: "PASHR,ACK", Err: ErrWrongSentence}
}

// DecodeBoardID returns the receiver identification fields of $PASHR,RID,
// comma-joined without the tag and checksum.
func DecodeBoardID(frame string) (string, error) {
	f, err := fieldsFor(frame, KindBoardID, 4)
	if err != nil {
		return "", err
	}
	return strings.Join(f[2:len(f)-1], ","), nil
}

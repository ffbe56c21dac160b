package nmea

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Angle converts a ddmm.mmmm (or dddmm.mmmm) field to decimal degrees,
// negated unless positive is set. Malformed input reads as zero.
func Angle(value string, positive bool) float64 {
	packed := parseFloat(value)
	minutes := math.Mod(packed, 100)
	deg := math.Trunc(packed/100) + minutes/60
	if !positive {
		deg = -deg
	}
	return deg
}

// EncodeAngle is the inverse of Angle for a non-negative value.
func EncodeAngle(deg float64) float64 {
	whole := math.Trunc(deg)
	return whole*100 + (deg-whole)*60
}

// TimeOfDay combines an hhmmss.sss field with the UTC calendar date of now.
// The fraction is kept to microsecond resolution. Midnight rollover between
// the receiver and the host clock is not corrected.
func TimeOfDay(field string, now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return timeOnDate(field, y, m, d)
}

func timeOnDate(field string, y int, m time.Month, d int) time.Time {
	field = strings.TrimSpace(field)
	intPart, frac, _ := strings.Cut(field, ".")
	hms := parseInt(intPart)
	if hms < 0 {
		hms = 0
	}

	usec := 0
	if frac != "" {
		digits := frac
		if len(digits) > 6 {
			digits = digits[:6]
		}
		if v, err := strconv.Atoi(digits); err == nil && v >= 0 {
			usec = v
			for i := len(digits); i < 6; i++ {
				usec *= 10
			}
		}
	}

	return time.Date(y, m, d, hms/10000, (hms/100)%100, hms%100, usec*1000, time.UTC)
}

// parseInt reads the leading integer of s like C atoi: empty or malformed
// input yields zero.
func parseInt(s string) int {
	s = leadingNumber(strings.TrimSpace(s), false)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// parseFloat reads the leading decimal of s like C atof.
func parseFloat(s string) float64 {
	s = leadingNumber(strings.TrimSpace(s), true)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func leadingNumber(s string, allowDot bool) string {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	seenDot := false
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && allowDot && !seenDot:
			seenDot = true
		default:
			return s[:end]
		}
		end++
	}
	return s[:end]
}

// Package frame splits the receiver byte stream into `$...*XX\r\n` frames.
//
// Extraction never verifies the checksum value; it only checks that the
// checksum marker sits four bytes before the terminating newline.
package frame

// Decision is the outcome of one Extract call.
type Decision int

const (
	// Incomplete means more bytes are needed; the buffer is left alone.
	Incomplete Decision = iota
	// Complete means the leading n bytes are one frame.
	Complete
	// Garbage means the leading n bytes must be dropped before retrying.
	Garbage
)

func (d Decision) String() string {
	switch d {
	case Complete:
		return "complete"
	case Garbage:
		return "garbage"
	default:
		return "incomplete"
	}
}

// Minimal frame is "$*FF\r\n": the newline must be at index 5 or later.
const minNewlineIndex = 5

// Extract inspects the head of buf and reports what to do with it.
func Extract(buf []byte) (Decision, int) {
	if len(buf) == 0 {
		return Incomplete, 0
	}

	if buf[0] == '$' {
		for i := 1; i < len(buf); i++ {
			switch buf[i] {
			case '\n':
				if i < minNewlineIndex || buf[i-4] != '*' {
					return Garbage, i + 1
				}
				return Complete, i + 1
			case '$':
				// Truncated sentence; resync on the new start marker.
				return Garbage, i
			}
		}
		return Incomplete, 0
	}

	for i := 1; i < len(buf); i++ {
		if buf[i] == '$' {
			return Garbage, i
		}
	}
	return Garbage, len(buf)
}

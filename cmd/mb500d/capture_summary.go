package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/nmea"
	"github.com/rock-drivers/drivers-mb500/internal/replay"
)

type captureSummary struct {
	Segments      int
	Frames        int
	BadChecksum   int
	MaxDuration   time.Duration
	SentenceCount map[string]int
}

// summarizeCapture counts the frames of a capture per sentence family.
// Frames are checked but not decoded.
func summarizeCapture(records []replay.Record) captureSummary {
	s := captureSummary{SentenceCount: map[string]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasFrames := false
	segments := 0

	for _, r := range records {
		if r.Frame == nil {
			segments++
			origin = r.At
			continue
		}
		hasFrames = true

		s.Frames++
		if at := r.At - origin; at > s.MaxDuration {
			s.MaxDuration = at
		}

		f := string(r.Frame)
		if err := nmea.VerifyChecksum(f); err != nil {
			s.BadChecksum++
			continue
		}
		s.SentenceCount[sentenceKey(f)]++
	}
	if segments == 0 && hasFrames {
		segments = 1
	}
	s.Segments = segments
	return s
}

// sentenceKey names a frame by talker and family, e.g. "GLGSV" or
// "PASHR,ACK"; frames of no known family keep their tag.
func sentenceKey(f string) string {
	kind := nmea.Classify(f)
	switch kind {
	case nmea.KindUnknown:
		tag := nmea.Split(f)[0]
		return strings.TrimPrefix(tag, "$")
	case nmea.KindAck, nmea.KindNak, nmea.KindLatency, nmea.KindBoardID:
		return kind.String()
	}
	return nmea.Talker(f) + kind.String()
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}

	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "bad_checksum: %d\n", s.BadChecksum)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	keys := make([]string, 0, len(s.SentenceCount))
	for k := range s.SentenceCount {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "sentence_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.SentenceCount[k])
	}
	return nil
}

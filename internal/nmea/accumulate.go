package nmea

import (
	"fmt"
	"strings"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

// PromotionPolicy decides which completed GSV series replace the public
// satellite list.
type PromotionPolicy int

const (
	// PromoteOnSecondary publishes only when the GLONASS (GL) series
	// completes. The MB500 emits its GP series first and its GL series
	// last, so this yields one combined list per cycle. A GP-only
	// configuration never publishes under this policy.
	PromoteOnSecondary PromotionPolicy = iota
	// PromoteOnAnyTalker publishes whenever any series completes; the list
	// grows through the cycle and is restarted by the next GP series.
	PromoteOnAnyTalker
)

func (p PromotionPolicy) String() string {
	if p == PromoteOnAnyTalker {
		return "any"
	}
	return "secondary"
}

// ParsePromotionPolicy accepts "secondary" (or "") and "any".
func ParsePromotionPolicy(s string) (PromotionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "secondary":
		return PromoteOnSecondary, nil
	case "any":
		return PromoteOnAnyTalker, nil
	}
	return 0, fmt.Errorf("unknown promotion policy %q", s)
}

// Promotes reports whether a series completed by talker is published.
func (p PromotionPolicy) Promotes(talker string) bool {
	return p == PromoteOnAnyTalker || talker == TalkerGLONASS
}

// SatelliteAccumulator reassembles GSV series.
type SatelliteAccumulator struct {
	buf gnss.SatelliteInfo
	// cycleDone is set once a secondary series completed, so the next
	// first part starts a fresh list even without a GP series.
	cycleDone bool
}

// Add folds one GSV part into the buffer and reports whether it is the last
// part of its series.
func (a *SatelliteAccumulator) Add(m GSV, now time.Time) bool {
	if m.Index == 1 && (m.Talker != TalkerGLONASS || a.cycleDone) {
		a.buf = gnss.SatelliteInfo{Time: now}
		a.cycleDone = false
	}
	a.buf.Satellites = append(a.buf.Satellites, m.Satellites...)

	complete := m.Index == m.Total
	if complete && m.Talker == TalkerGLONASS {
		a.cycleDone = true
	}
	return complete
}

// Buffer returns a copy of the partial list.
func (a *SatelliteAccumulator) Buffer() gnss.SatelliteInfo {
	return a.buf.Clone()
}

// QualityAccumulator reassembles GSA series. GSA carries no part counter:
// a series ends when an empty list arrives or the PRN numbering restarts.
type QualityAccumulator struct {
	buf gnss.SolutionQuality
}

// Add folds one GSA sentence in. When it starts a new series the previous
// buffer is returned with ok set.
func (a *QualityAccumulator) Add(m GSA, now time.Time) (prev gnss.SolutionQuality, ok bool) {
	used := a.buf.UsedSatellites
	if len(m.Used) == 0 || (len(used) > 0 && used[len(used)-1] > m.Used[0]) {
		prev, ok = a.buf, true
		a.buf = gnss.SolutionQuality{Time: now}
	}
	a.buf.UsedSatellites = append(a.buf.UsedSatellites, m.Used...)
	a.buf.PDOP = m.PDOP
	a.buf.HDOP = m.HDOP
	a.buf.VDOP = m.VDOP
	return prev, ok
}

// Buffer returns a copy of the partial series.
func (a *QualityAccumulator) Buffer() gnss.SolutionQuality {
	return a.buf.Clone()
}

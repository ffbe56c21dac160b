package mb500

import (
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

// ClockSample pairs the board UTC of a ZDA sentence with the host time at
// which the board produced it (arrival time minus processing latency).
type ClockSample struct {
	Host  time.Time
	Board time.Time
}

// Offset is Board minus Host.
func (c ClockSample) Offset() time.Duration {
	return c.Board.Sub(c.Host)
}

// Synchronizer latches the last Position, Errors, Quality and Satellites
// and decides when they form a new fix. It is not safe for concurrent use.
type Synchronizer struct {
	policy nmea.PromotionPolicy

	position   gnss.Position
	errors     gnss.Errors
	quality    gnss.SolutionQuality
	satellites gnss.SatelliteInfo

	sats nmea.SatelliteAccumulator
	qual nmea.QualityAccumulator

	latency  time.Duration
	clock    ClockSample
	reported time.Time
}

func NewSynchronizer(policy nmea.PromotionPolicy) *Synchronizer {
	return &Synchronizer{policy: policy}
}

// Process applies one frame. Unknown sentences are ignored. On a decode
// error nothing is changed.
func (s *Synchronizer) Process(frame string, now time.Time) (nmea.Kind, error) {
	kind := nmea.Classify(frame)
	switch kind {
	case nmea.KindGGA:
		p, err := nmea.DecodeGGA(frame, now)
		if err != nil {
			return kind, err
		}
		s.position = p
	case nmea.KindGST:
		e, err := nmea.DecodeGST(frame, now)
		if err != nil {
			return kind, err
		}
		s.errors = e
	case nmea.KindGSA:
		m, err := nmea.DecodeGSA(frame)
		if err != nil {
			return kind, err
		}
		if prev, ok := s.qual.Add(m, now); ok {
			s.quality = prev
		}
	case nmea.KindGSV:
		m, err := nmea.DecodeGSV(frame)
		if err != nil {
			return kind, err
		}
		if s.sats.Add(m, now) && s.policy.Promotes(m.Talker) {
			s.satellites = s.sats.Buffer()
		}
	case nmea.KindZDA:
		utc, err := nmea.DecodeZDA(frame, now)
		if err != nil {
			return kind, err
		}
		s.clock = ClockSample{Host: now.Add(-s.latency), Board: utc}
	case nmea.KindLatency:
		l, err := nmea.DecodeLatency(frame)
		if err != nil {
			return kind, err
		}
		s.latency = l
	}
	return kind, nil
}

// Ready reports a fix when Position and Errors carry the same, non-zero
// timestamp newer than the last one reported. Each timestamp is reported
// once.
func (s *Synchronizer) Ready() (gnss.Fix, bool) {
	t := s.position.Time
	if t.IsZero() || !t.Equal(s.errors.Time) || !t.After(s.reported) {
		return gnss.Fix{}, false
	}
	s.reported = t
	return s.Fix(), true
}

// Fix returns a copy of the latched state regardless of readiness.
func (s *Synchronizer) Fix() gnss.Fix {
	return gnss.Fix{
		Position:   s.position,
		Errors:     s.errors,
		Quality:    s.quality.Clone(),
		Satellites: s.satellites.Clone(),
	}
}

func (s *Synchronizer) Position() gnss.Position { return s.position }

func (s *Synchronizer) Errors() gnss.Errors { return s.errors }

func (s *Synchronizer) Quality() gnss.SolutionQuality { return s.quality.Clone() }

func (s *Synchronizer) Satellites() gnss.SatelliteInfo { return s.satellites.Clone() }

// Latency is the last $PASHR,LTN processing latency.
func (s *Synchronizer) Latency() time.Duration { return s.latency }

// Clock returns the last ZDA sample; ok is false before the first one.
func (s *Synchronizer) Clock() (ClockSample, bool) {
	return s.clock, !s.clock.Board.IsZero()
}

// LastReported is the timestamp of the last fix returned by Ready.
func (s *Synchronizer) LastReported() time.Time { return s.reported }

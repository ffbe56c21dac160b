package mb500

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

var syncNow = time.Date(2021, 3, 14, 22, 10, 5, 0, time.UTC)

func mustProcess(t *testing.T, s *Synchronizer, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := s.Process(l, syncNow); err != nil {
			t.Fatalf("Process(%q) error: %v", l, err)
		}
	}
}

func gga(ts string) string {
	return nmeaLine("GPGGA," + ts + ",4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
}

func gst(ts string) string {
	return nmeaLine("GPGST," + ts + ",1,2,3,4,0.01,0.02,0.03")
}

func TestSynchronizer_ReadyOnMatchingTimestamps(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	if _, ok := s.Ready(); ok {
		t.Fatalf("ready before any data")
	}

	mustProcess(t, s, gga("101010.00"))
	if _, ok := s.Ready(); ok {
		t.Fatalf("ready with position only")
	}
	mustProcess(t, s, gst("101009.00"))
	if _, ok := s.Ready(); ok {
		t.Fatalf("ready with mismatched timestamps")
	}
	mustProcess(t, s, gst("101010.00"))
	fix, ok := s.Ready()
	if !ok {
		t.Fatalf("not ready with matching timestamps")
	}
	want := time.Date(2021, 3, 14, 10, 10, 10, 0, time.UTC)
	if !fix.Position.Time.Equal(want) || !s.LastReported().Equal(want) {
		t.Fatalf("time=%s reported=%s want %s", fix.Position.Time, s.LastReported(), want)
	}
	if _, ok := s.Ready(); ok {
		t.Fatalf("same timestamp reported twice")
	}

	// Repeating the pair for the same epoch does not produce a new fix.
	mustProcess(t, s, gga("101010.00"), gst("101010.00"))
	if _, ok := s.Ready(); ok {
		t.Fatalf("repeated epoch reported again")
	}

	mustProcess(t, s, gst("101011.00"), gga("101011.00"))
	if _, ok := s.Ready(); !ok {
		t.Fatalf("next epoch not reported")
	}
}

func TestSynchronizer_OlderEpochIgnored(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	mustProcess(t, s, gga("101010.00"), gst("101010.00"))
	if _, ok := s.Ready(); !ok {
		t.Fatalf("first epoch not reported")
	}
	mustProcess(t, s, gga("101005.00"), gst("101005.00"))
	if _, ok := s.Ready(); ok {
		t.Fatalf("older epoch reported")
	}
}

func TestSynchronizer_DecodeErrorKeepsState(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	mustProcess(t, s, gga("101010.00"))
	before := s.Fix()

	kind, err := s.Process(nmeaLine("GPGGA,101011.00,4807.038"), syncNow)
	if kind != nmea.KindGGA || !errors.Is(err, nmea.ErrShortSentence) {
		t.Fatalf("kind=%s err=%v", kind, err)
	}
	if after := s.Fix(); !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed on decode error")
	}
}

func TestSynchronizer_UnknownIgnored(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	kind, err := s.Process(nmeaLine("GPRMC,101010.00,A"), syncNow)
	if err != nil || kind != nmea.KindUnknown {
		t.Fatalf("kind=%s err=%v", kind, err)
	}
}

func TestSynchronizer_LatencyAndClock(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	if _, ok := s.Clock(); ok {
		t.Fatalf("clock before ZDA")
	}
	mustProcess(t, s,
		nmeaLine("PASHR,LTN,50"),
		nmeaLine("GPZDA,221004.50,14,03,2021,,"),
	)
	if s.Latency() != 50*time.Millisecond {
		t.Fatalf("latency=%s", s.Latency())
	}
	c, ok := s.Clock()
	if !ok {
		t.Fatalf("no clock sample")
	}
	if !c.Host.Equal(syncNow.Add(-50 * time.Millisecond)) {
		t.Fatalf("host=%s", c.Host)
	}
	if got, want := c.Offset(), -450*time.Millisecond; got != want {
		t.Fatalf("offset=%s want %s", got, want)
	}
}

func TestSynchronizer_SatellitesPromotion(t *testing.T) {
	gp := nmeaLine("GPGSV,1,1,02,01,40,083,46,02,17,308,41")
	gl := nmeaLine("GLGSV,1,1,01,65,30,100,40")

	s := NewSynchronizer(nmea.PromoteOnSecondary)
	mustProcess(t, s, gp)
	if n := len(s.Satellites().Satellites); n != 0 {
		t.Fatalf("promoted after GP series: %d", n)
	}
	mustProcess(t, s, gl)
	if n := len(s.Satellites().Satellites); n != 3 {
		t.Fatalf("satellites=%d want 3", n)
	}

	anyTalker := NewSynchronizer(nmea.PromoteOnAnyTalker)
	mustProcess(t, anyTalker, gp)
	if n := len(anyTalker.Satellites().Satellites); n != 2 {
		t.Fatalf("any-talker satellites=%d want 2", n)
	}
}

func TestSynchronizer_QualityOnSeriesRestart(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnSecondary)
	mustProcess(t, s,
		nmeaLine("GPGSA,A,3,04,05,,,,,,,,,,,2.5,1.3,2.1"),
		nmeaLine("GLGSA,A,3,66,67,,,,,,,,,,,2.5,1.3,2.1"),
	)
	if n := len(s.Quality().UsedSatellites); n != 0 {
		t.Fatalf("quality published before restart: %d", n)
	}
	mustProcess(t, s, nmeaLine("GPGSA,A,3,04,05,,,,,,,,,,,2.4,1.2,2.0"))
	q := s.Quality()
	if !reflect.DeepEqual(q.UsedSatellites, []int{4, 5, 66, 67}) {
		t.Fatalf("used=%v", q.UsedSatellites)
	}
	if q.PDOP != 2.5 {
		t.Fatalf("pdop=%v", q.PDOP)
	}
}

func TestFixIsACopy(t *testing.T) {
	s := NewSynchronizer(nmea.PromoteOnAnyTalker)
	mustProcess(t, s, nmeaLine("GPGSV,1,1,01,01,40,083,46"))
	f := s.Fix()
	f.Satellites.Satellites[0].PRN = 99
	if s.Satellites().Satellites[0].PRN != 1 {
		t.Fatalf("Fix shares satellite storage")
	}
}

package fixlog

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "fixes.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixAt(sec int, sol gnss.SolutionType) gnss.Fix {
	ts := time.Date(2021, 3, 14, 10, 10, sec, 250_000_000, time.UTC)
	return gnss.Fix{
		Position: gnss.Position{Time: ts, Latitude: 48.1, Longitude: -11.5, Altitude: 545.4, Solution: sol, Satellites: 8},
		Errors:   gnss.Errors{Time: ts, DevLatitude: 0.01, DevLongitude: 0.02, DevAltitude: 0.03},
		Quality:  gnss.SolutionQuality{UsedSatellites: []int{4, 5, 66}, PDOP: 2.5, HDOP: 1.3, VDOP: 2.1},
	}
}

func TestStore_InsertAndRecent(t *testing.T) {
	s := openTestStore(t)
	for i, sol := range []gnss.SolutionType{gnss.Autonomous, gnss.RTKFloat, gnss.RTKFixed} {
		if _, err := s.Insert(fixAt(i, sol)); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}
	n, err := s.Count()
	if err != nil || n != 3 {
		t.Fatalf("Count()=%d,%v", n, err)
	}

	got, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records=%d want 2", len(got))
	}
	want := fixAt(2, gnss.RTKFixed)
	f := got[0].Fix
	if !f.Position.Time.Equal(want.Position.Time) || f.Position.Solution != gnss.RTKFixed {
		t.Fatalf("newest=%+v", f.Position)
	}
	if f.Position.Longitude != -11.5 || f.Errors.DevAltitude != 0.03 || f.Quality.VDOP != 2.1 {
		t.Fatalf("fields=%+v %+v %+v", f.Position, f.Errors, f.Quality)
	}
	if !reflect.DeepEqual(f.Quality.UsedSatellites, []int{4, 5, 66}) {
		t.Fatalf("used=%v", f.Quality.UsedSatellites)
	}
	if got[1].Fix.Position.Solution != gnss.RTKFloat {
		t.Fatalf("order: second=%s", got[1].Fix.Position.Solution)
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 4; i++ {
		if _, err := s.Insert(fixAt(i, gnss.Autonomous)); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}
	removed, err := s.Prune(fixAt(2, gnss.Autonomous).Position.Time)
	if err != nil || removed != 2 {
		t.Fatalf("Prune()=%d,%v", removed, err)
	}
	if n, _ := s.Count(); n != 2 {
		t.Fatalf("count=%d want 2", n)
	}
}

func TestStore_RecentEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Recent(10)
	if err != nil || len(got) != 0 {
		t.Fatalf("Recent()=%v,%v", got, err)
	}
	if got, _ := s.Recent(0); got != nil {
		t.Fatalf("Recent(0)=%v", got)
	}
}

func TestPRNRoundTrip(t *testing.T) {
	if joinPRNs(nil) != "" || splitPRNs("") != nil {
		t.Fatalf("empty list handling")
	}
	if got := splitPRNs(joinPRNs([]int{1, 65})); !reflect.DeepEqual(got, []int{1, 65}) {
		t.Fatalf("got=%v", got)
	}
}

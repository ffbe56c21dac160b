package gnss

import "testing"

func TestSolutionTypeFromCode(t *testing.T) {
	cases := map[int]SolutionType{
		0: NoSolution, 1: Autonomous, 2: Differential, 3: Invalid,
		4: RTKFixed, 5: RTKFloat, 6: Invalid, -1: Invalid,
	}
	for code, want := range cases {
		if got := SolutionTypeFromCode(code); got != want {
			t.Fatalf("SolutionTypeFromCode(%d)=%s want %s", code, got, want)
		}
	}
	if RTKFixed.String() != "rtk_fixed" {
		t.Fatalf("String()=%q", RTKFixed.String())
	}
}

func TestConstellationFromPRN(t *testing.T) {
	cases := []struct {
		prn  int
		want Constellation
	}{
		{1, GPS}, {32, GPS}, {33, SBAS}, {64, SBAS}, {65, GLONASS}, {88, GLONASS},
	}
	for _, tc := range cases {
		if got := ConstellationFromPRN(tc.prn); got != tc.want {
			t.Fatalf("ConstellationFromPRN(%d)=%s want %s", tc.prn, got, tc.want)
		}
	}
}

func TestFixCounts(t *testing.T) {
	f := Fix{
		Quality: SolutionQuality{UsedSatellites: []int{3, 7, 44, 70, 71}},
		Satellites: SatelliteInfo{Satellites: []Satellite{
			{PRN: 3}, {PRN: 7}, {PRN: 12}, {PRN: 44}, {PRN: 70},
		}},
	}
	if got, want := f.UsedPerConstellation(), (ConstellationCount{GPS: 2, SBAS: 1, GLONASS: 2}); got != want {
		t.Fatalf("used=%+v want %+v", got, want)
	}
	if got, want := f.TrackedPerConstellation(), (ConstellationCount{GPS: 3, SBAS: 1, GLONASS: 1}); got != want {
		t.Fatalf("tracked=%+v want %+v", got, want)
	}
}

func TestFixClone(t *testing.T) {
	f := Fix{
		Quality:    SolutionQuality{UsedSatellites: []int{1}},
		Satellites: SatelliteInfo{Satellites: []Satellite{{PRN: 1}}},
	}
	c := f.Clone()
	c.Quality.UsedSatellites[0] = 2
	c.Satellites.Satellites[0].PRN = 2
	if f.Quality.UsedSatellites[0] != 1 || f.Satellites.Satellites[0].PRN != 1 {
		t.Fatalf("Clone shares storage")
	}
}

func TestSettingArgs(t *testing.T) {
	if Fix95_0.Arg() != "95.0" || NoFix.Arg() != "0" {
		t.Fatalf("threshold args %q %q", Fix95_0.Arg(), NoFix.Arg())
	}
	if CorrelatorEdge.Arg() != "E" || CorrelatorStrobe.Arg() != "S" {
		t.Fatalf("correlator args")
	}
	if Adaptive != 8 || UserDefined != 9 || GPGLL1L2CS != 5 {
		t.Fatalf("wire values changed")
	}
}

func TestFirmwareOption(t *testing.T) {
	o := OptionRTKRover | OptionGLONASSTracking
	if !o.Has(OptionRTKRover) || o.Has(OptionRTKBase) {
		t.Fatalf("Has() mismatch for %d", o)
	}
	if OptionAdvancedMultipath != 512 {
		t.Fatalf("OptionAdvancedMultipath=%d", OptionAdvancedMultipath)
	}
	if got := o.String(); got != "rtk_rover,glonass" {
		t.Fatalf("String()=%q", got)
	}
}

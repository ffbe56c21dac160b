package gnss

import "time"

// SolutionType is the position solution reported in GGA field 6.
type SolutionType int

const (
	NoSolution SolutionType = iota
	Autonomous
	Differential
	Invalid
	RTKFixed
	RTKFloat
)

// SolutionTypeFromCode maps the receiver's 0-5 code; anything else is Invalid.
func SolutionTypeFromCode(code int) SolutionType {
	if code < 0 || code > int(RTKFloat) {
		return Invalid
	}
	return SolutionType(code)
}

func (s SolutionType) String() string {
	switch s {
	case NoSolution:
		return "none"
	case Autonomous:
		return "autonomous"
	case Differential:
		return "differential"
	case RTKFixed:
		return "rtk_fixed"
	case RTKFloat:
		return "rtk_float"
	default:
		return "invalid"
	}
}

// Constellation is derived from the satellite PRN.
type Constellation int

const (
	GPS Constellation = iota
	SBAS
	GLONASS
)

func ConstellationFromPRN(prn int) Constellation {
	switch {
	case prn < 33:
		return GPS
	case prn < 65:
		return SBAS
	default:
		return GLONASS
	}
}

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "gps"
	case SBAS:
		return "sbas"
	default:
		return "glonass"
	}
}

// Position is one decoded GGA sentence. Latitude and longitude are signed
// decimal degrees (north and east positive).
type Position struct {
	Time              time.Time    `json:"time"`
	Latitude          float64      `json:"latitude"`
	Longitude         float64      `json:"longitude"`
	Solution          SolutionType `json:"solution"`
	Satellites        int          `json:"satellites"`
	Altitude          float64      `json:"altitude"`
	GeoidalSeparation float64      `json:"geoidal_separation"`
	DifferentialAge   float64      `json:"differential_age"`
}

// Errors is one decoded GST sentence: 1-sigma deviations in meters.
type Errors struct {
	Time         time.Time `json:"time"`
	DevLatitude  float64   `json:"dev_latitude"`
	DevLongitude float64   `json:"dev_longitude"`
	DevAltitude  float64   `json:"dev_altitude"`
}

// SolutionQuality is reassembled from a series of GSA sentences.
type SolutionQuality struct {
	Time           time.Time `json:"time"`
	UsedSatellites []int     `json:"used_satellites"`
	PDOP           float64   `json:"pdop"`
	HDOP           float64   `json:"hdop"`
	VDOP           float64   `json:"vdop"`
}

func (q SolutionQuality) Clone() SolutionQuality {
	q.UsedSatellites = append([]int(nil), q.UsedSatellites...)
	return q
}

type Satellite struct {
	PRN       int `json:"prn"`
	Elevation int `json:"elevation"`
	Azimuth   int `json:"azimuth"`
	SNR       int `json:"snr"`
}

func (s Satellite) Constellation() Constellation {
	return ConstellationFromPRN(s.PRN)
}

// SatelliteInfo is reassembled from a series of GSV sentences.
type SatelliteInfo struct {
	Time       time.Time   `json:"time"`
	Satellites []Satellite `json:"satellites"`
}

func (s SatelliteInfo) Clone() SatelliteInfo {
	s.Satellites = append([]Satellite(nil), s.Satellites...)
	return s
}

// Fix is one synchronized navigation snapshot. Position.Time and
// Errors.Time are equal; Quality and Satellites are the latest complete
// series and may lag by a cycle.
type Fix struct {
	Position   Position        `json:"position"`
	Errors     Errors          `json:"errors"`
	Quality    SolutionQuality `json:"quality"`
	Satellites SatelliteInfo   `json:"satellites"`
}

func (f Fix) Clone() Fix {
	f.Quality = f.Quality.Clone()
	f.Satellites = f.Satellites.Clone()
	return f
}

// ConstellationCount holds per-constellation satellite counters.
type ConstellationCount struct {
	GPS     int `json:"gps"`
	SBAS    int `json:"sbas"`
	GLONASS int `json:"glonass"`
}

func (c *ConstellationCount) add(prn int) {
	switch ConstellationFromPRN(prn) {
	case GPS:
		c.GPS++
	case SBAS:
		c.SBAS++
	default:
		c.GLONASS++
	}
}

func (f Fix) UsedPerConstellation() ConstellationCount {
	var c ConstellationCount
	for _, prn := range f.Quality.UsedSatellites {
		c.add(prn)
	}
	return c
}

func (f Fix) TrackedPerConstellation() ConstellationCount {
	var c ConstellationCount
	for _, s := range f.Satellites.Satellites {
		c.add(s.PRN)
	}
	return c
}

package gnss

import "strings"

// DynamicsModel selects the receiver motion model ($PASHS,DYN).
type DynamicsModel int

const (
	Static DynamicsModel = iota + 1
	QuasiStatic
	Walking
	Ship
	Automobile
	Aircraft
	UnlimitedDynamics
	Adaptive
	UserDefined
)

// AmbiguityThreshold is the RTK fix confidence level ($PASHS,CPD,AFP).
type AmbiguityThreshold int

const (
	NoFix AmbiguityThreshold = iota
	Fix95_0
	Fix99_0
	Fix99_9
)

// Arg returns the wire value of the threshold.
func (a AmbiguityThreshold) Arg() string {
	switch a {
	case Fix95_0:
		return "95.0"
	case Fix99_0:
		return "99.0"
	case Fix99_9:
		return "99.9"
	default:
		return "0"
	}
}

// GNSSMode selects tracked signals ($PASHS,GNS,CFG).
type GNSSMode int

const (
	GPL1 GNSSMode = iota
	GPGLL1
	GPL2
	GPL2CS
	GPGLL1L2
	GPGLL1L2CS
)

// CorrelatorMode is the code correlator setting ($PASHS,CRR).
type CorrelatorMode int

const (
	CorrelatorEdge CorrelatorMode = iota
	CorrelatorStrobe
)

func (c CorrelatorMode) Arg() string {
	if c == CorrelatorStrobe {
		return "S"
	}
	return "E"
}

// FirmwareOption is a bit set of unlocked firmware options.
type FirmwareOption uint32

const (
	OptionUpdateRate FirmwareOption = 1 << iota
	OptionRTKRover
	OptionRTKBase
	OptionPPSOutput
	OptionEventMarker
	OptionSBASTracking
	OptionGLONASSTracking
	OptionRTKMovingBase
	OptionHeading
	OptionAdvancedMultipath
)

func (o FirmwareOption) Has(flag FirmwareOption) bool {
	return o&flag == flag
}

func (o FirmwareOption) String() string {
	names := []struct {
		flag FirmwareOption
		name string
	}{
		{OptionUpdateRate, "update_rate"},
		{OptionRTKRover, "rtk_rover"},
		{OptionRTKBase, "rtk_base"},
		{OptionPPSOutput, "pps_output"},
		{OptionEventMarker, "event_marker"},
		{OptionSBASTracking, "sbas"},
		{OptionGLONASSTracking, "glonass"},
		{OptionRTKMovingBase, "moving_base"},
		{OptionHeading, "heading"},
		{OptionAdvancedMultipath, "advanced_multipath"},
	}
	var out []string
	for _, n := range names {
		if o.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return strings.Join(out, ",")
}

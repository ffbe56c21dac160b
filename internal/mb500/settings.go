package mb500

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

// Board output ports.
var boardPorts = []string{"A", "B", "C"}

// Unset marks an optional integer argument as absent.
const Unset = -1

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// formatRate renders an output period: 0.1, 0.2 and 0.5 s are sent as is,
// anything else as whole seconds.
func formatRate(period time.Duration) string {
	sec := period.Seconds()
	for _, r := range []string{"0.1", "0.2", "0.5"} {
		v, _ := strconv.ParseFloat(r, 64)
		if math.Abs(sec-v) < 0.01 {
			return r
		}
	}
	return strconv.Itoa(int(sec))
}

func (d *Driver) exec(ctx context.Context, cmd Command) error {
	_, err := d.Exec(ctx, cmd)
	return err
}

// SetNMEA turns one NMEA message on or off on a board port.
func (d *Driver) SetNMEA(ctx context.Context, msg, port string, on bool, period time.Duration) error {
	rate := formatRate(period)
	label := fmt.Sprintf("NMEA OUTPUT %s %s %s", msg, onOff(on), rate)
	return d.exec(ctx, Set(label, "NME", msg, port, onOff(on), rate))
}

// SetNMEAAll turns every NMEA message on or off on a board port.
func (d *Driver) SetNMEAAll(ctx context.Context, port string, on bool) error {
	return d.exec(ctx, Set("NMEA ALL", "NME", "ALL", port, onOff(on)))
}

// SetPeriodicData enables the sentences the synchronizer consumes. GSA and
// GSV are throttled to at most one series every five seconds.
func (d *Driver) SetPeriodicData(ctx context.Context, port string, period time.Duration) error {
	stats := time.Duration(int(period.Seconds())) * time.Second
	if stats < 5*time.Second {
		stats = 5 * time.Second
	}
	for _, msg := range []string{"GGA", "GST", "ZDA", "LTN"} {
		if err := d.SetNMEA(ctx, msg, port, true, period); err != nil {
			return err
		}
	}
	for _, msg := range []string{"GSA", "GSV"} {
		if err := d.SetNMEA(ctx, msg, port, true, stats); err != nil {
			return err
		}
	}
	return nil
}

// StopPeriodicData disables NMEA output on ports A, B and C.
func (d *Driver) StopPeriodicData(ctx context.Context) error {
	for _, p := range boardPorts {
		if err := d.SetNMEAAll(ctx, p, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) SetReceiverDynamics(ctx context.Context, m gnss.DynamicsModel) error {
	v := strconv.Itoa(int(m))
	return d.exec(ctx, Set("RECEIVER DYNAMICS "+v, "DYN", v))
}

// SetUserDynamics sets the limits of the user-defined dynamics model.
func (d *Driver) SetUserDynamics(ctx context.Context, hVel, hAcc, vVel, vAcc int) error {
	return d.exec(ctx, Set("USER DYNAMICS", "UDP",
		strconv.Itoa(hVel), strconv.Itoa(hAcc), strconv.Itoa(vVel), strconv.Itoa(vAcc)))
}

// KnownPoint seeds the receiver with an approximate position. Coordinates
// are signed decimal degrees.
type KnownPoint struct {
	Latitude  float64
	Longitude float64
	Height    float64
	AccLat    float64
	AccLon    float64
	AccAlt    float64
	Attribute string
}

func (d *Driver) SetKnownPointInit(ctx context.Context, p KnownPoint) error {
	lat, ns := hemisphere(p.Latitude, "N", "S")
	lon, ew := hemisphere(p.Longitude, "E", "W")
	return d.exec(ctx, Set("SET INITIAL POSITION", "KPI",
		lat, ns, lon, ew,
		strconv.FormatFloat(p.Height, 'f', 4, 64),
		strconv.FormatFloat(p.AccLat, 'f', -1, 64),
		strconv.FormatFloat(p.AccLon, 'f', -1, 64),
		strconv.FormatFloat(p.AccAlt, 'f', -1, 64),
		p.Attribute))
}

// SetProcessingRate changes the position output rate in Hz. The board
// resets afterwards; the acquisition timeout follows the new rate.
func (d *Driver) SetProcessingRate(ctx context.Context, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("mb500: processing rate %d: %w", rate, ErrInvalidArgument)
	}
	prev := d.acqTimeout
	d.acqTimeout = 5 * time.Second
	if err := d.exec(ctx, Set("PROCESSING RATE", "POP", strconv.Itoa(rate))); err != nil {
		d.acqTimeout = prev
		return err
	}
	d.acqTimeout = 2 * time.Second / time.Duration(rate)
	if d.acqTimeout < minAcquisitionTimeout {
		d.acqTimeout = minAcquisitionTimeout
	}
	d.awaitBoardReset(ctx)
	return nil
}

// ResetStoredPosition lets the receiver move again ($PASHS,POS,MOV).
func (d *Driver) ResetStoredPosition(ctx context.Context) error {
	return d.exec(ctx, Set("RESET STORED POSITION", "POS", "MOV"))
}

// SetPositionFromCurrent fixes the reference position to the current fix.
func (d *Driver) SetPositionFromCurrent(ctx context.Context) error {
	return d.exec(ctx, Set("SET POSITION FROM CURRENT", "POS", "CUR"))
}

// SetPosition fixes the reference position. Latitude and longitude are
// signed decimal degrees; height is in meters.
func (d *Driver) SetPosition(ctx context.Context, lat, lon, height float64) error {
	la, ns := hemisphere(lat, "N", "S")
	lo, ew := hemisphere(lon, "E", "W")
	return d.exec(ctx, Set("SET CURRENT POSITION", "POS",
		la, ns, lo, ew, strconv.FormatFloat(height, 'f', 4, 64)))
}

func hemisphere(deg float64, pos, neg string) (string, string) {
	letter := neg
	if deg > 0 {
		letter = pos
	}
	return strconv.FormatFloat(nmea.EncodeAngle(math.Abs(deg)), 'f', 7, 64), letter
}

func (d *Driver) SetFixThreshold(ctx context.Context, t gnss.AmbiguityThreshold) error {
	return d.exec(ctx, Set("FIX THRESHOLD "+t.Arg(), "CPD", "AFP", t.Arg()))
}

func (d *Driver) SetFastRTK(ctx context.Context, on bool) error {
	return d.exec(ctx, Set("FAST RTK "+onOff(on), "CPD", "FST", onOff(on)))
}

func (d *Driver) ResetRTK(ctx context.Context) error {
	return d.exec(ctx, Set("RTK RESET", "CPD", "RST"))
}

// SetRTKInputPort makes the board read RTCM3 corrections on port.
func (d *Driver) SetRTKInputPort(ctx context.Context, port string) error {
	return d.exec(ctx, Set("RTK INPUT PORT", "DIF", "PRT", port, "RT3"))
}

func (d *Driver) SetCodeCorrelatorMode(ctx context.Context, m gnss.CorrelatorMode) error {
	return d.exec(ctx, Set("CODE CORRELATOR "+m.Arg(), "CRR", m.Arg()))
}

func (d *Driver) SetGLONASSTracking(ctx context.Context, on bool) error {
	return d.exec(ctx, Set("SET GLONASS TRACKING", "GLO", onOff(on)))
}

func (d *Driver) SetSBASTracking(ctx context.Context, on bool) error {
	return d.exec(ctx, Set("SET SBAS TRACKING", "SBA", onOff(on)))
}

func (d *Driver) SetGNSSMode(ctx context.Context, m gnss.GNSSMode) error {
	return d.exec(ctx, Set("SET GNSS MODE", "GNS", "CFG", strconv.Itoa(int(m))))
}

// SetCodeSmoothing configures code measurement smoothing. Pass Unset for
// arguments to leave out: code 0-100, carrier 100-600, window 0-3600.
func (d *Driver) SetCodeSmoothing(ctx context.Context, code, carrier, window int) error {
	args, err := smoothingArgs(code, carrier, window)
	if err != nil {
		return err
	}
	return d.exec(ctx, Set("CODE SMOOTHING", "SMI", args...))
}

func smoothingArgs(code, carrier, window int) ([]string, error) {
	in := func(v, lo, hi int) bool { return v >= lo && v <= hi }
	bad := fmt.Errorf("mb500: code smoothing %d,%d,%d: %w", code, carrier, window, ErrInvalidArgument)

	for _, c := range []struct{ v, lo, hi int }{{code, 0, 100}, {carrier, 100, 600}, {window, 0, 3600}} {
		if c.v != Unset && !in(c.v, c.lo, c.hi) {
			return nil, bad
		}
	}
	fmtArg := func(v int) string {
		if v == Unset {
			return ""
		}
		return strconv.Itoa(v)
	}
	switch {
	case code != Unset && carrier == Unset && window == Unset:
		return []string{fmtArg(code)}, nil
	case code != Unset && window == Unset:
		return []string{fmtArg(code), fmtArg(carrier)}, nil
	case window != Unset && (code != Unset || carrier == Unset):
		return []string{fmtArg(code), fmtArg(carrier), fmtArg(window)}, nil
	}
	return nil, bad
}

// RTCM3 messages enabled by SetRTKBase, with their output periods.
var rtkBaseMessages = []struct {
	id     string
	period string
}{
	{"1004", "0.5"},
	{"1012", "0.5"},
	{"1006", "2"},
	{"1033", "5"},
}

// SetRTKBase enables RTCM3 correction output on port.
func (d *Driver) SetRTKBase(ctx context.Context, port string) error {
	cmds := make([]Command, 0, len(rtkBaseMessages))
	for _, m := range rtkBaseMessages {
		cmds = append(cmds, Set("RTK BASE "+m.id, "RT3", m.id, port, "ON", m.period))
	}
	return d.ExecBatch(ctx, cmds...)
}

// StopRTKBase disables RTCM2 and RTCM3 output on every port. Rejections
// are logged and skipped since not every firmware carries both formats.
func (d *Driver) StopRTKBase(ctx context.Context) error {
	for _, kw := range []string{"RT2", "RT3"} {
		for _, p := range boardPorts {
			err := d.exec(ctx, Set(kw+","+p+",OFF", kw, "ALL", p, "OFF"))
			if err != nil && !errors.Is(err, ErrRejected) {
				return err
			}
		}
	}
	return nil
}

// SetPPS configures the 1PPS output: period in seconds (0 disables),
// offset from the UTC second, and the active edge.
func (d *Driver) SetPPS(ctx context.Context, period, offset time.Duration, rising bool) error {
	if period < 0 {
		return fmt.Errorf("mb500: pps period %s: %w", period, ErrInvalidArgument)
	}
	edge := "F"
	if rising {
		edge = "R"
	}
	return d.exec(ctx, Set("PPS", "PPS",
		strconv.FormatFloat(period.Seconds(), 'f', -1, 64),
		strconv.FormatFloat(float64(offset)/float64(time.Millisecond), 'f', -1, 64),
		edge))
}

// Reset restarts the receiver (cold clears almanac and ephemeris), waits
// for it to come back and silences its NMEA output. The reset command
// itself is not acknowledged.
func (d *Driver) Reset(ctx context.Context, cold bool) error {
	mode := "5"
	if cold {
		mode = "1"
	}
	if err := d.send(Set("RESET", "INI", "9", "9", mode).Text); err != nil {
		return fmt.Errorf("mb500: send reset: %w", err)
	}
	d.awaitBoardReset(ctx)
	return d.StopPeriodicData(ctx)
}

// DisableAllOutputs stops NMEA and correction output on every port.
func (d *Driver) DisableAllOutputs(ctx context.Context) error {
	if err := d.StopPeriodicData(ctx); err != nil {
		return err
	}
	return d.StopRTKBase(ctx)
}

// Init silences the board and releases any stored position.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.DisableAllOutputs(ctx); err != nil {
		return err
	}
	return d.ResetStoredPosition(ctx)
}

// InitRover is Init with adaptive dynamics.
func (d *Driver) InitRover(ctx context.Context) error {
	if err := d.Init(ctx); err != nil {
		return err
	}
	return d.SetReceiverDynamics(ctx, gnss.Adaptive)
}

// InitBase is Init with static dynamics.
func (d *Driver) InitBase(ctx context.Context) error {
	if err := d.Init(ctx); err != nil {
		return err
	}
	return d.SetReceiverDynamics(ctx, gnss.Static)
}

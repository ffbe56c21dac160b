package web

import (
	"sync/atomic"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/mb500"
)

const serviceName = "mb500d"

// Status is the daemon state served at /api/status. Writers are the read
// loop and the correction relay; readers are HTTP handlers.
type Status struct {
	startUnixNano int64
	lastFixNano   int64
	mode          atomic.Value // string
	device        atomic.Value // string
	boardID       atomic.Value // string
	stats         atomic.Value // mb500.Stats
	fix           atomic.Value // gnss.Fix
	haveFix       atomic.Bool
	correction    atomic.Uint64
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.device.Store("")
	s.boardID.Store("")
	s.stats.Store(mb500.Stats{})
	s.fix.Store(gnss.Fix{})
	return s
}

// SetStatic records values that do not change while the daemon runs. Empty
// strings leave the previous value.
func (s *Status) SetStatic(mode, device, boardID string) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if device != "" {
		s.device.Store(device)
	}
	if boardID != "" {
		s.boardID.Store(boardID)
	}
}

func (s *Status) static() (mode, device, boardID string) {
	return s.mode.Load().(string), s.device.Load().(string), s.boardID.Load().(string)
}

func (s *Status) SetStats(st mb500.Stats) { s.stats.Store(st) }

func (s *Status) AddCorrectionBytes(n uint64) { s.correction.Add(n) }

// MarkFix stores a copy of fix as the latest one.
func (s *Status) MarkFix(nowUTC time.Time, fix gnss.Fix) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastFixNano, nowUTC.UnixNano())
	s.fix.Store(fix.Clone())
	s.haveFix.Store(true)
}

// LastFix returns the latest fix, if any.
func (s *Status) LastFix() (gnss.Fix, bool) {
	if !s.haveFix.Load() {
		return gnss.Fix{}, false
	}
	return s.fix.Load().(gnss.Fix).Clone(), true
}

type StatusSnapshot struct {
	Service         string                  `json:"service"`
	NowUTC          string                  `json:"now_utc"`
	UptimeSec       int64                   `json:"uptime_sec"`
	Mode            string                  `json:"mode"`
	Device          string                  `json:"device"`
	BoardID         string                  `json:"board_id,omitempty"`
	Driver          mb500.Stats             `json:"driver"`
	CorrectionBytes uint64                  `json:"correction_bytes"`
	LastFixUTC      string                  `json:"last_fix_utc,omitempty"`
	Solution        string                  `json:"solution,omitempty"`
	Used            gnss.ConstellationCount `json:"used"`
	Tracked         gnss.ConstellationCount `json:"tracked"`
	LocalAddrs      []string                `json:"local_addrs,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:         serviceName,
		NowUTC:          nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:       int64(nowUTC.Sub(start).Seconds()),
		Mode:            s.mode.Load().(string),
		Device:          s.device.Load().(string),
		BoardID:         s.boardID.Load().(string),
		Driver:          s.stats.Load().(mb500.Stats),
		CorrectionBytes: s.correction.Load(),
		LocalAddrs:      localInterfaceAddrs(),
	}
	if fix, ok := s.LastFix(); ok {
		snap.LastFixUTC = time.Unix(0, atomic.LoadInt64(&s.lastFixNano)).UTC().Format(time.RFC3339Nano)
		snap.Solution = fix.Position.Solution.String()
		snap.Used = fix.UsedPerConstellation()
		snap.Tracked = fix.TrackedPerConstellation()
	}
	return snap
}

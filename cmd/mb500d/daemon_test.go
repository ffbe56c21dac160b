package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/config"
	"github.com/rock-drivers/drivers-mb500/internal/correction"
	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/mb500"
	"github.com/rock-drivers/drivers-mb500/internal/replay"
	"github.com/rock-drivers/drivers-mb500/internal/web"
)

func nmeaLine(payload string) []byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return []byte(fmt.Sprintf("$%s*%02X\r\n", payload, ck))
}

var (
	ggaFrame = nmeaLine("GPGGA,101010.00,4807.038,N,01131.000,E,4,08,0.9,545.4,M,46.9,M,1.0,0001")
	gstFrame = nmeaLine("GPGST,101010.00,1,0.010,0.020,0.030,0.011,0.012,0.013")
	zdaFrame = nmeaLine("GPZDA,101010.00,14,03,2021,,")
	ltnFrame = nmeaLine("PASHR,LTN,50")
)

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.log")
	w, err := replay.CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	for i, f := range frames {
		if err := w.WriteFrame(now.Add(time.Duration(i)*time.Millisecond), f); err != nil {
			t.Fatalf("WriteFrame() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	return path
}

func loadConfig(t *testing.T, body string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestDaemon_MonitorReplay(t *testing.T) {
	capture := writeCapture(t, ltnFrame, zdaFrame, ggaFrame, gstFrame)
	cfg := loadConfig(t, fmt.Sprintf("mode: monitor\nreplay:\n  enable: true\n  path: %q\n  speed: 100\n", capture))

	d, err := newDaemon(context.Background(), cfg, web.NewLogBuffer(0))
	if err != nil {
		t.Fatalf("newDaemon() error: %v", err)
	}
	defer d.Close()

	id, fixes := d.hub.Subscribe(1)
	defer d.hub.Unsubscribe(id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Run() err=%v want EOF", err)
	}

	fix, ok := d.status.LastFix()
	if !ok {
		t.Fatalf("no fix recorded")
	}
	if fix.Position.Solution != gnss.RTKFixed || fix.Position.Satellites != 8 {
		t.Fatalf("position=%+v", fix.Position)
	}
	select {
	case f := <-fixes:
		if !f.Position.Time.Equal(fix.Position.Time) {
			t.Fatalf("hub fix time=%s want %s", f.Position.Time, fix.Position.Time)
		}
	default:
		t.Fatalf("hub got no fix")
	}
	if st := d.drv.Stats(); st.Fixes != 1 || st.Rejected != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if snap := d.status.Snapshot(time.Time{}); snap.Device != "replay:"+capture || snap.Mode != "monitor" {
		t.Fatalf("snapshot device=%q mode=%q", snap.Device, snap.Mode)
	}
}

func TestDaemon_BaseReplayForwardsVerifiedCorrections(t *testing.T) {
	rtcm, err := correction.Encode([]byte{0x3e, 0xd0, 0x00, 0x01, 0x02})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	capture := writeCapture(t, ggaFrame, gstFrame, []byte("noise"), rtcm)
	cfg := loadConfig(t, fmt.Sprintf(
		"mode: base\nreplay:\n  enable: true\n  path: %q\n  speed: 100\nbase:\n  dest: %q\n  verify_crc: true\n  position:\n    latitude: 48.1173\n    longitude: 11.5167\n    height: 545.4\n",
		capture, pc.LocalAddr().String()))

	d, err := newDaemon(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newDaemon() error: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Run() err=%v want EOF", err)
	}

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error: %v", err)
	}
	if !bytes.Equal(buf[:n], rtcm) {
		t.Fatalf("forwarded=%x want %x", buf[:n], rtcm)
	}
	if d.relay.Total() != uint64(len(rtcm)) || d.relay.Frames() != 1 {
		t.Fatalf("relay total=%d frames=%d", d.relay.Total(), d.relay.Frames())
	}
}

func TestDaemon_BaseSurveyPublishesFixes(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	var frames [][]byte
	for i := 0; i < 3; i++ {
		ts := fmt.Sprintf("1010%02d.00", 10+i)
		frames = append(frames,
			nmeaLine(fmt.Sprintf("GPGGA,%s,48%02d.000,N,01131.000,E,1,08,0.9,500.0,M,46.9,M,,", ts, i)),
			nmeaLine("GPGST,"+ts+",1,0.010,0.020,0.030,0.011,0.012,0.013"),
		)
	}
	capture := writeCapture(t, frames...)
	cfg := loadConfig(t, fmt.Sprintf(
		"mode: base\nreplay:\n  enable: true\n  path: %q\n  speed: 100\nbase:\n  dest: %q\n  survey_window: 1s\n",
		capture, pc.LocalAddr().String()))

	d, err := newDaemon(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newDaemon() error: %v", err)
	}
	defer d.Close()

	id, fixes := d.hub.Subscribe(4)
	defer d.hub.Unsubscribe(id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Run() err=%v want EOF", err)
	}

	if d.seq != 3 || len(fixes) != 3 {
		t.Fatalf("seq=%d hub fixes=%d want 3", d.seq, len(fixes))
	}
	fix, ok := d.status.LastFix()
	if !ok || fix.Position.Time.Second() != 12 {
		t.Fatalf("last fix=%+v ok=%v", fix.Position, ok)
	}
}

type fakePublisher struct {
	fixes []gnss.Fix
	err   error
}

func (p *fakePublisher) PublishFix(f gnss.Fix) error {
	p.fixes = append(p.fixes, f)
	return p.err
}

type fakeStore struct{ fixes []gnss.Fix }

func (s *fakeStore) Insert(f gnss.Fix) (int64, error) {
	s.fixes = append(s.fixes, f)
	return int64(len(s.fixes)), nil
}

type clockUpdate struct{ clock, receive time.Time }

type fakeClock struct{ updates []clockUpdate }

func (c *fakeClock) Update(clock, receive time.Time) {
	c.updates = append(c.updates, clockUpdate{clock, receive})
}

type fakeAligner struct {
	clock, host time.Time
	ok          bool
}

func (a fakeAligner) Align(board, now time.Time) (time.Time, time.Time, bool) {
	return a.clock, a.host, a.ok
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

// replayDriver returns a driver that reads frames in order.
func replayDriver(t *testing.T, now time.Time, frames ...[]byte) *mb500.Driver {
	t.Helper()
	recs := make([]replay.Record, 0, len(frames))
	for _, f := range frames {
		recs = append(recs, replay.Record{Frame: f})
	}
	port, err := replay.NewPort(recs, replay.PortOptions{Sleeper: noSleep{}})
	if err != nil {
		t.Fatalf("NewPort() error: %v", err)
	}
	return mb500.New(port, mb500.Options{Now: func() time.Time { return now }})
}

func readFix(t *testing.T, drv *mb500.Driver) gnss.Fix {
	t.Helper()
	fix, err := drv.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	return fix
}

func TestHandleFix_FansOut(t *testing.T) {
	now := time.Date(2021, 3, 14, 10, 10, 10, 600_000_000, time.UTC)
	drv := replayDriver(t, now, ltnFrame, zdaFrame, ggaFrame, gstFrame)

	pub := &fakePublisher{err: errors.New("broker down")}
	store := &fakeStore{}
	shm := &fakeClock{}
	d := &daemon{
		cfg:    config.Config{Mode: config.ModeRover},
		now:    func() time.Time { return now },
		drv:    drv,
		status: web.NewStatus(),
		hub:    web.NewFixHub(),
		relay:  &correction.Relay{},
		pub:    pub,
		store:  store,
		shm:    shm,
	}

	fix := readFix(t, drv)
	d.handleFix(fix)
	d.handleFix(fix)

	if len(pub.fixes) != 2 || len(store.fixes) != 2 {
		t.Fatalf("published=%d stored=%d want 2 each", len(pub.fixes), len(store.fixes))
	}
	if len(shm.updates) != 1 {
		t.Fatalf("clock updates=%d want 1", len(shm.updates))
	}
	board := time.Date(2021, 3, 14, 10, 10, 10, 0, time.UTC)
	u := shm.updates[0]
	if !u.clock.Equal(board) || !u.receive.Equal(now.Add(-50*time.Millisecond)) {
		t.Fatalf("clock=%s receive=%s", u.clock, u.receive)
	}
	if _, ok := d.status.LastFix(); !ok {
		t.Fatalf("status has no fix")
	}
	if d.seq != 2 {
		t.Fatalf("seq=%d", d.seq)
	}
}

func TestPushClock_UsesPPSEdge(t *testing.T) {
	now := time.Date(2021, 3, 14, 10, 10, 10, 600_000_000, time.UTC)
	drv := replayDriver(t, now, ltnFrame, zdaFrame, ggaFrame, gstFrame)
	edge := fakeAligner{
		clock: time.Date(2021, 3, 14, 10, 10, 10, 0, time.UTC),
		host:  now.Add(-598 * time.Millisecond),
		ok:    true,
	}
	shm := &fakeClock{}
	d := &daemon{
		cfg:    config.Config{Mode: config.ModeMonitor},
		now:    func() time.Time { return now },
		drv:    drv,
		status: web.NewStatus(),
		hub:    web.NewFixHub(),
		relay:  &correction.Relay{},
		shm:    shm,
		edges:  edge,
	}
	d.handleFix(readFix(t, drv))

	if len(shm.updates) != 1 {
		t.Fatalf("clock updates=%d want 1", len(shm.updates))
	}
	if u := shm.updates[0]; !u.clock.Equal(edge.clock) || !u.receive.Equal(edge.host) {
		t.Fatalf("clock=%s receive=%s", u.clock, u.receive)
	}
}

func TestPushClock_NoZDA(t *testing.T) {
	now := time.Date(2021, 3, 14, 10, 10, 11, 0, time.UTC)
	drv := replayDriver(t, now, ggaFrame, gstFrame)
	shm := &fakeClock{}
	d := &daemon{
		cfg:    config.Config{Mode: config.ModeMonitor},
		now:    func() time.Time { return now },
		drv:    drv,
		status: web.NewStatus(),
		hub:    web.NewFixHub(),
		relay:  &correction.Relay{},
		shm:    shm,
	}
	d.handleFix(readFix(t, drv))
	if len(shm.updates) != 0 {
		t.Fatalf("clock updates=%d want 0", len(shm.updates))
	}
}

func TestOpenCorrectionOutput(t *testing.T) {
	w, closeFn, err := openCorrectionOutput("-")
	if err != nil || w != os.Stdout {
		t.Fatalf("stdout output w=%v err=%v", w, err)
	}
	closeFn()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	w, closeFn, err = openCorrectionOutput(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("openCorrectionOutput() error: %v", err)
	}
	defer closeFn()
	if _, err := w.Write([]byte{0xd3, 0x00}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := pc.ReadFrom(buf)
	if err != nil || n != 2 {
		t.Fatalf("ReadFrom() n=%d err=%v", n, err)
	}
}

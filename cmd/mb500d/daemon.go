package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/rock-drivers/drivers-mb500/internal/config"
	"github.com/rock-drivers/drivers-mb500/internal/correction"
	"github.com/rock-drivers/drivers-mb500/internal/fixlog"
	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/mb500"
	"github.com/rock-drivers/drivers-mb500/internal/ntpshm"
	"github.com/rock-drivers/drivers-mb500/internal/pps"
	"github.com/rock-drivers/drivers-mb500/internal/publish"
	"github.com/rock-drivers/drivers-mb500/internal/replay"
	"github.com/rock-drivers/drivers-mb500/internal/transport"
	"github.com/rock-drivers/drivers-mb500/internal/udp"
	"github.com/rock-drivers/drivers-mb500/internal/web"
)

const statsInterval = time.Second

type fixPublisher interface {
	PublishFix(f gnss.Fix) error
}

type fixStore interface {
	Insert(f gnss.Fix) (int64, error)
}

type clockSink interface {
	Update(clock, receive time.Time)
}

type edgeAligner interface {
	Align(board, now time.Time) (clock, host time.Time, ok bool)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// daemon owns the board connection and every consumer of its fixes.
type daemon struct {
	cfg    config.Config
	device string
	now    func() time.Time

	drv    *mb500.Driver
	status *web.Status
	hub    *web.FixHub
	logs   *web.LogBuffer
	relay  *correction.Relay

	pub   fixPublisher
	store fixStore
	shm   clockSink
	edges edgeAligner

	lastClock time.Time
	seq       uint64

	closers   []io.Closer
	closeOnce sync.Once
}

func newDaemon(ctx context.Context, cfg config.Config, logs *web.LogBuffer) (_ *daemon, err error) {
	d := &daemon{
		cfg:    cfg,
		now:    time.Now,
		status: web.NewStatus(),
		hub:    web.NewFixHub(),
		logs:   logs,
		relay:  &correction.Relay{Verify: cfg.Base.VerifyCRC},
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	port, err := d.openPort(ctx)
	if err != nil {
		return nil, err
	}

	opts := mb500.Options{
		AcquisitionTimeout: cfg.Device.ReadTimeout,
		AckTimeout:         cfg.Device.AckTimeout,
		VerifyChecksum:     cfg.Device.VerifyChecksum,
		Promotion:          cfg.Promotion(),
	}
	if cfg.Capture.Enable {
		cw, err := replay.NewDailyWriter(cfg.Capture.Dir)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		d.closers = append(d.closers, cw)
		var warned bool
		opts.Tap = func(now time.Time, f []byte) {
			if err := cw.WriteFrame(now, f); err != nil && !warned {
				warned = true
				log.Printf("capture write failed dir=%s err=%v", cfg.Capture.Dir, err)
			}
		}
		log.Printf("capture enabled dir=%s", cfg.Capture.Dir)
	}
	d.drv = mb500.New(port, opts)
	d.closers = append(d.closers, d.drv)
	d.status.SetStatic(cfg.Mode, d.device, "")

	if cfg.MQTT.Enable {
		p, err := publish.Connect(publish.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Timeout:  cfg.MQTT.Timeout,
		})
		if err != nil {
			return nil, err
		}
		d.pub = p
		d.closers = append(d.closers, p)
	}

	if cfg.Store.Enable {
		s, err := fixlog.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		d.store = s
		d.closers = append(d.closers, s)
		if cfg.Store.Retain > 0 {
			if err := d.schedulePrune(s, cfg.Store.Retain); err != nil {
				return nil, err
			}
		}
	}

	if cfg.NTP.Enable {
		w, err := ntpshm.Open(cfg.NTP.Unit)
		if err != nil {
			return nil, err
		}
		d.shm = w
		d.closers = append(d.closers, w)
		log.Printf("ntp shm enabled unit=%d", cfg.NTP.Unit)
	}

	if cfg.PPS.Enable {
		m := pps.NewMonitor()
		line, err := pps.Open(cfg.PPS.Chip, cfg.PPS.Line, m)
		if err != nil {
			return nil, err
		}
		d.edges = m
		d.closers = append(d.closers, line)
		log.Printf("pps enabled chip=%s line=%s", cfg.PPS.Chip, cfg.PPS.Line)
	}

	return d, nil
}

// openPort opens the board link, or the capture to replay.
func (d *daemon) openPort(ctx context.Context) (transport.Port, error) {
	if d.cfg.Replay.Enable {
		recs, err := replay.ReadFile(d.cfg.Replay.Path)
		if err != nil {
			return nil, fmt.Errorf("replay load: %w", err)
		}
		p, err := replay.NewPort(recs, replay.PortOptions{
			Speed:   d.cfg.Replay.Speed,
			Loop:    d.cfg.Replay.Loop,
			AutoAck: true,
		})
		if err != nil {
			return nil, fmt.Errorf("replay load: %w", err)
		}
		d.device = "replay:" + d.cfg.Replay.Path
		log.Printf("replay enabled path=%s records=%d speed=%v loop=%v", d.cfg.Replay.Path, len(recs), d.cfg.Replay.Speed, d.cfg.Replay.Loop)
		return p, nil
	}

	spec, err := transport.Parse(d.cfg.Device.Port)
	if err != nil {
		return nil, err
	}
	if d.cfg.Device.Baud > 0 && spec.Scheme == "serial" {
		spec.Baud = d.cfg.Device.Baud
	}
	p, err := transport.OpenSpec(ctx, spec)
	if err != nil {
		return nil, err
	}
	d.device = spec.String()
	return p, nil
}

func (d *daemon) schedulePrune(s *fixlog.Store, retain time.Duration) error {
	c := cron.New()
	err := c.AddFunc("@hourly", func() {
		n, err := s.Prune(d.now().Add(-retain))
		if err != nil {
			log.Printf("store prune failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("store pruned rows=%d retain=%s", n, retain)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule store prune: %w", err)
	}
	c.Start()
	d.closers = append(d.closers, closerFunc(func() error {
		c.Stop()
		return nil
	}))
	return nil
}

// Close releases everything in reverse order of opening.
func (d *daemon) Close() {
	d.closeOnce.Do(func() {
		for i := len(d.closers) - 1; i >= 0; i-- {
			if err := d.closers[i].Close(); err != nil {
				log.Printf("close failed: %v", err)
			}
		}
	})
}

// Run configures the board for the selected mode and runs until ctx ends
// or the link fails.
func (d *daemon) Run(ctx context.Context) error {
	if d.cfg.Web.Enable {
		go func() {
			log.Printf("web listening addr=%s", d.cfg.Web.Listen)
			if err := web.Serve(ctx, d.cfg.Web.Listen, d.status, d.hub, d.logs); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}
	go d.reportStats(ctx)

	if err := d.setup(ctx); err != nil {
		return err
	}
	switch d.cfg.Mode {
	case config.ModeRover:
		return d.runRover(ctx)
	case config.ModeBase:
		return d.runBase(ctx)
	default:
		return d.runMonitor(ctx)
	}
}

// setup applies the settings shared by every mode.
func (d *daemon) setup(ctx context.Context) error {
	if !d.cfg.Replay.Enable {
		id, err := d.drv.BoardID(ctx)
		if err != nil {
			log.Printf("mb500 board id query failed: %v", err)
		} else {
			log.Printf("mb500 board id=%s", id)
			d.status.SetStatic("", "", id)
		}
	}
	if r := d.cfg.Device.ProcessingRate; r > 0 {
		if err := d.drv.SetProcessingRate(ctx, r); err != nil {
			return fmt.Errorf("set processing rate: %w", err)
		}
		log.Printf("mb500 processing rate=%dHz acquisition_timeout=%s", r, d.drv.AcquisitionTimeout())
	}
	if d.cfg.PPS.Enable {
		if err := d.drv.SetPPS(ctx, time.Second, d.cfg.PPS.Offset, true); err != nil {
			return fmt.Errorf("set pps: %w", err)
		}
	}
	return nil
}

func (d *daemon) runMonitor(ctx context.Context) error {
	if err := d.drv.Init(ctx); err != nil {
		return fmt.Errorf("monitor init: %w", err)
	}
	if err := d.drv.SetPeriodicData(ctx, d.cfg.Periodic.Port, d.cfg.Periodic.Period); err != nil {
		return fmt.Errorf("monitor periodic data: %w", err)
	}
	log.Printf("mb500 board initialized mode=monitor port=%s period=%s", d.cfg.Periodic.Port, d.cfg.Periodic.Period)
	return d.readFixes(ctx)
}

func (d *daemon) runRover(ctx context.Context) error {
	rc := d.cfg.Rover
	if err := d.drv.InitRover(ctx); err != nil {
		return fmt.Errorf("rover init: %w", err)
	}
	if m := rc.DynamicsModel(); m != gnss.Adaptive {
		if err := d.drv.SetReceiverDynamics(ctx, m); err != nil {
			return fmt.Errorf("rover dynamics: %w", err)
		}
	}
	if err := d.drv.SetFastRTK(ctx, rc.FastRTK); err != nil {
		return fmt.Errorf("rover fast rtk: %w", err)
	}
	if err := d.drv.SetFixThreshold(ctx, rc.Threshold()); err != nil {
		return fmt.Errorf("rover fix threshold: %w", err)
	}
	inPort, relay := d.cfg.CorrectionPort()
	if err := d.drv.SetRTKInputPort(ctx, inPort); err != nil {
		return fmt.Errorf("rover correction input: %w", err)
	}
	if err := d.drv.SetPeriodicData(ctx, d.cfg.Periodic.Port, d.cfg.Periodic.Period); err != nil {
		return fmt.Errorf("rover periodic data: %w", err)
	}

	if relay {
		conn, err := net.ListenPacket("udp", rc.CorrectionListen())
		if err != nil {
			return fmt.Errorf("correction listen: %w", err)
		}
		defer conn.Close()
		log.Printf("correction input udp=%s board_port=%s", conn.LocalAddr(), inPort)
		go func() {
			if err := d.relay.RunInbound(ctx, conn, d.drv); err != nil && ctx.Err() == nil {
				log.Printf("correction relay stopped: %v", err)
			}
		}()
	} else if rc.CorrectionSource != "" {
		log.Printf("correction input board_port=%s", inPort)
	}

	log.Printf("mb500 board initialized mode=rover port=%s period=%s", d.cfg.Periodic.Port, d.cfg.Periodic.Period)
	return d.readFixes(ctx)
}

func (d *daemon) runBase(ctx context.Context) error {
	bc := d.cfg.Base
	dst, closeDst, err := openCorrectionOutput(bc.Dest)
	if err != nil {
		return err
	}
	defer closeDst()

	if err := d.drv.InitBase(ctx); err != nil {
		return fmt.Errorf("base init: %w", err)
	}
	if err := d.drv.SetPeriodicData(ctx, d.cfg.Periodic.Port, d.cfg.Periodic.Period); err != nil {
		return fmt.Errorf("base periodic data: %w", err)
	}
	log.Printf("mb500 board initialized mode=base port=%s", d.cfg.Periodic.Port)

	if p := bc.Position; p != nil {
		log.Printf("base setting position lat=%.10f lon=%.10f alt=%.2f", p.Latitude, p.Longitude, p.Height)
		if err := d.drv.SetPosition(ctx, p.Latitude, p.Longitude, p.Height); err != nil {
			return fmt.Errorf("base set position: %w", err)
		}
		fix, err := d.drv.Next(ctx)
		if err != nil {
			return err
		}
		d.handleFix(fix)
		log.Printf("base board reports lat=%.10f lon=%.10f alt=%.2f",
			fix.Position.Latitude, fix.Position.Longitude, fix.Position.Altitude+fix.Position.GeoidalSeparation)
	} else {
		sctx, cancel := context.WithTimeout(ctx, bc.SurveyWindow+30*time.Second)
		survey, err := mb500.SurveyPosition(sctx, d.drv, bc.SurveyWindow, d.handleFix)
		cancel()
		if err != nil {
			return fmt.Errorf("base survey: %w", err)
		}
		log.Printf("base survey done samples=%d lat=%.10f lon=%.10f alt=%.2f",
			survey.Samples, survey.Position.Latitude, survey.Position.Longitude, survey.Position.Altitude)
	}
	if err := d.drv.StopPeriodicData(ctx); err != nil {
		return fmt.Errorf("base stop periodic data: %w", err)
	}
	if bc.Position == nil {
		if err := d.drv.SetPositionFromCurrent(ctx); err != nil {
			return fmt.Errorf("base set position from current: %w", err)
		}
	}
	if err := d.drv.SetRTKBase(ctx, d.cfg.Periodic.Port); err != nil {
		return fmt.Errorf("base rtk output: %w", err)
	}
	log.Printf("correction output dest=%s verify_crc=%v", bc.Dest, bc.VerifyCRC)
	return d.relay.RunOutbound(ctx, d.drv, dst)
}

// openCorrectionOutput returns stdout for "-" and a UDP sender otherwise.
func openCorrectionOutput(dest string) (io.Writer, func(), error) {
	if dest == "-" {
		return os.Stdout, func() {}, nil
	}
	b, err := udp.NewBroadcaster(dest)
	if err != nil {
		return nil, nil, fmt.Errorf("correction output: %w", err)
	}
	return b, func() { _ = b.Close() }, nil
}

func (d *daemon) readFixes(ctx context.Context) error {
	for {
		fix, err := d.drv.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		d.handleFix(fix)
	}
}

// handleFix fans a fix out to every consumer. Consumer failures are
// logged and do not stop the read loop.
func (d *daemon) handleFix(fix gnss.Fix) {
	d.seq++
	var corr uint64
	if d.cfg.Mode == config.ModeRover {
		corr = d.relay.TakeBytes()
		d.status.AddCorrectionBytes(corr)
	}
	p, e := fix.Position, fix.Errors
	log.Printf("fix seq=%d time=%s lat=%.8f lon=%.8f alt=%.3f solution=%s sats=%d diff_age=%.1f dev=%.3f/%.3f/%.3f correction_bytes=%d",
		d.seq, p.Time.Format("15:04:05.00"), p.Latitude, p.Longitude, p.Altitude, p.Solution, p.Satellites,
		p.DifferentialAge, e.DevLatitude, e.DevLongitude, e.DevAltitude, corr)

	d.status.MarkFix(d.now().UTC(), fix)
	d.status.SetStats(d.drv.Stats())
	d.hub.Publish(fix)

	if d.pub != nil {
		if err := d.pub.PublishFix(fix); err != nil {
			log.Printf("mqtt publish failed: %v", err)
		}
	}
	if d.store != nil {
		if _, err := d.store.Insert(fix); err != nil {
			log.Printf("store insert failed: %v", err)
		}
	}
	d.pushClock()
}

// pushClock hands the latest ZDA time to ntpd. With PPS the sample is
// replaced by the pulse that started the board second.
func (d *daemon) pushClock() {
	if d.shm == nil {
		return
	}
	c, ok := d.drv.Synchronizer().Clock()
	if !ok || c.Board.Equal(d.lastClock) {
		return
	}
	d.lastClock = c.Board
	clock, host := c.Board, c.Host
	if d.edges != nil {
		if pc, ph, ok := d.edges.Align(c.Board, d.now().UTC()); ok {
			clock, host = pc, ph
		}
	}
	d.shm.Update(clock, host)
}

func (d *daemon) reportStats(ctx context.Context) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.status.SetStats(d.drv.Stats())
			if d.cfg.Mode == config.ModeBase {
				d.status.AddCorrectionBytes(d.relay.TakeBytes())
			}
		}
	}
}

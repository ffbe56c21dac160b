package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/mb500"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
	"github.com/rock-drivers/drivers-mb500/internal/transport"
)

const usage = "usage: mb500tool [flags] <device> <cold-reset|warm-reset|status|almanac|satellites|edge|strobe|fixed|static|moving|id|period N>"

var errUsage = errors.New(usage)

func main() {
	var (
		baud      int
		ackWait   time.Duration
		quiet     time.Duration
		promoteOn string
		list      bool
	)
	flag.IntVar(&baud, "baud", 0, "Serial baud rate (0 keeps the device default)")
	flag.DurationVar(&ackWait, "timeout", 5*time.Second, "Time to wait for a command reply")
	flag.DurationVar(&quiet, "quiet", time.Second, "Silence that ends a status or almanac dump")
	flag.StringVar(&promoteOn, "promote-on", "secondary", "Satellite list completion: secondary or any")
	flag.BoolVar(&list, "list", false, "List serial ports and exit")
	flag.Parse()

	if list {
		ports, err := transport.Ports()
		if err != nil {
			log.Fatalf("list ports failed: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	policy, err := nmea.ParsePromotionPolicy(promoteOn)
	if err != nil {
		log.Fatalf("invalid -promote-on: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	spec, err := transport.Parse(args[0])
	if err != nil {
		log.Fatalf("invalid device: %v", err)
	}
	if baud > 0 && spec.Scheme == "serial" {
		spec.Baud = baud
	}
	port, err := transport.OpenSpec(ctx, spec)
	if err != nil {
		log.Fatalf("cannot open %s: %v", spec, err)
	}
	drv := mb500.New(port, mb500.Options{AckTimeout: ackWait, Promotion: policy})
	defer drv.Close()

	if err := run(ctx, drv, args[1:], os.Stdout, quiet); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			drv.Close()
			os.Exit(2)
		}
		log.Printf("%s failed: %v", args[1], err)
		drv.Close()
		os.Exit(1)
	}
}

// run executes one tool command against the board.
func run(ctx context.Context, drv *mb500.Driver, args []string, w io.Writer, quiet time.Duration) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	if cmd != "period" && len(rest) > 0 {
		return fmt.Errorf("%s takes no argument\n%w", cmd, errUsage)
	}

	switch cmd {
	case "cold-reset", "warm-reset":
		return drv.Reset(ctx, cmd == "cold-reset")
	case "status":
		if err := drv.StopPeriodicData(ctx); err != nil {
			return err
		}
		return drv.DumpStatus(ctx, w, quiet)
	case "almanac":
		if err := drv.StopPeriodicData(ctx); err != nil {
			return err
		}
		n, err := drv.DumpAlmanac(ctx, w, quiet)
		if err != nil {
			return err
		}
		log.Printf("almanac sentences=%d", n)
		return nil
	case "satellites":
		if err := drv.StopPeriodicData(ctx); err != nil {
			return err
		}
		info, err := drv.QuerySatellites(ctx, "")
		if err != nil {
			return err
		}
		printSatellites(w, info)
		return nil
	case "id":
		id, err := drv.BoardID(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, id)
		return nil
	case "edge":
		return drv.SetCodeCorrelatorMode(ctx, gnss.CorrelatorEdge)
	case "strobe":
		return drv.SetCodeCorrelatorMode(ctx, gnss.CorrelatorStrobe)
	case "fixed":
		if err := drv.SetPositionFromCurrent(ctx); err != nil {
			return err
		}
		return drv.SetReceiverDynamics(ctx, gnss.Static)
	case "static", "moving":
		if err := drv.ResetStoredPosition(ctx); err != nil {
			return err
		}
		m := gnss.Static
		if cmd == "moving" {
			m = gnss.Adaptive
		}
		return drv.SetReceiverDynamics(ctx, m)
	case "period":
		if len(rest) != 1 {
			return fmt.Errorf("missing period argument for 'period'\n%w", errUsage)
		}
		rate, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid period %q\n%w", rest[0], errUsage)
		}
		return drv.SetProcessingRate(ctx, rate)
	}
	return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
}

func printSatellites(w io.Writer, info gnss.SatelliteInfo) {
	fmt.Fprintf(w, "time: %s\n", info.Time.Format(time.RFC3339))
	fmt.Fprintf(w, "satellites: %d\n", len(info.Satellites))
	for _, s := range info.Satellites {
		fmt.Fprintf(w, "  prn=%d constellation=%s elevation=%d azimuth=%d snr=%d\n",
			s.PRN, s.Constellation(), s.Elevation, s.Azimuth, s.SNR)
	}
}

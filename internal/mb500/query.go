package mb500

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/frame"
	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

// query sends cmd and returns the first reply of kind want. A NAK becomes
// a *RejectedError.
func (d *Driver) query(ctx context.Context, cmd Command, want nmea.Kind) (string, error) {
	if err := d.send(cmd.Text); err != nil {
		return "", fmt.Errorf("mb500: send %s: %w", cmd.Label, err)
	}
	f, err := d.awaitFrame(ctx, func(k nmea.Kind) bool {
		return k == want || k == nmea.KindNak
	})
	if err != nil {
		if errors.Is(err, ErrAckTimeout) {
			return "", fmt.Errorf("mb500: %s: %w", cmd.Label, err)
		}
		return "", err
	}
	if nmea.Classify(f) == nmea.KindNak {
		d.rejected.Add(1)
		return "", &RejectedError{Label: cmd.Label}
	}
	return f, nil
}

// BoardID returns the receiver identification ($PASHQ,RID).
func (d *Driver) BoardID(ctx context.Context) (string, error) {
	f, err := d.query(ctx, Query("RID", ""), nmea.KindBoardID)
	if err != nil {
		return "", err
	}
	return nmea.DecodeBoardID(f)
}

// QueryPosition requests one GGA on port ("" for the command port).
func (d *Driver) QueryPosition(ctx context.Context, port string) (gnss.Position, error) {
	f, err := d.query(ctx, Query("GGA", port), nmea.KindGGA)
	if err != nil {
		return gnss.Position{}, err
	}
	return nmea.DecodeGGA(f, d.now())
}

// QueryErrors requests one GST on port.
func (d *Driver) QueryErrors(ctx context.Context, port string) (gnss.Errors, error) {
	f, err := d.query(ctx, Query("GST", port), nmea.KindGST)
	if err != nil {
		return gnss.Errors{}, err
	}
	return nmea.DecodeGST(f, d.now())
}

// QuerySatellites requests the satellites in view and collects GSV parts
// until the driver's promotion policy accepts a completed series.
func (d *Driver) QuerySatellites(ctx context.Context, port string) (gnss.SatelliteInfo, error) {
	cmd := Query("GSV", port)
	if err := d.send(cmd.Text); err != nil {
		return gnss.SatelliteInfo{}, fmt.Errorf("mb500: send %s: %w", cmd.Label, err)
	}
	var acc nmea.SatelliteAccumulator
	for {
		f, err := d.awaitFrame(ctx, func(k nmea.Kind) bool {
			return k == nmea.KindGSV || k == nmea.KindNak
		})
		if err != nil {
			if errors.Is(err, ErrAckTimeout) {
				return acc.Buffer(), fmt.Errorf("mb500: %s: %w", cmd.Label, err)
			}
			return acc.Buffer(), err
		}
		if nmea.Classify(f) == nmea.KindNak {
			d.rejected.Add(1)
			return gnss.SatelliteInfo{}, &RejectedError{Label: cmd.Label}
		}
		m, err := nmea.DecodeGSV(f)
		if err != nil {
			d.decodeErrors.Add(1)
			continue
		}
		if acc.Add(m, d.now()) && d.opts.Promotion.Promotes(m.Talker) {
			return acc.Buffer(), nil
		}
	}
}

// DumpStatus requests the parameter listing ($PASHQ,PAR) and copies the raw
// reply to w until the board stays quiet for the given duration.
func (d *Driver) DumpStatus(ctx context.Context, w io.Writer, quiet time.Duration) error {
	cmd := Query("PAR", "")
	if err := d.send(cmd.Text); err != nil {
		return fmt.Errorf("mb500: send %s: %w", cmd.Label, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := d.ReadRaw(quiet)
		if errors.Is(err, frame.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
}

// DumpAlmanac requests the almanac ($PASHQ,ALM) and writes every almanac
// sentence to w, one per line, until none arrives for the given duration.
// It returns the number of sentences written.
func (d *Driver) DumpAlmanac(ctx context.Context, w io.Writer, quiet time.Duration) (int, error) {
	cmd := Query("ALM", "")
	if err := d.send(cmd.Text); err != nil {
		return 0, fmt.Errorf("mb500: send %s: %w", cmd.Label, err)
	}
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		f, err := d.readFrame(quiet)
		if errors.Is(err, frame.ErrTimeout) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if nmea.Classify(f) == nmea.KindNak {
			d.rejected.Add(1)
			return n, &RejectedError{Label: cmd.Label}
		}
		if !strings.Contains(f, "ALM") {
			continue
		}
		if _, err := io.WriteString(w, strings.TrimRight(f, "\r\n")+"\n"); err != nil {
			return n, err
		}
		n++
	}
}

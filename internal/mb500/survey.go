package mb500

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

// ErrNoSolution is returned by SurveyPosition when no usable fix arrived.
var ErrNoSolution = errors.New("no valid solution")

// Survey is the averaged result of SurveyPosition.
type Survey struct {
	Position gnss.Position
	Samples  int
}

// SurveyPosition averages latitude, longitude and altitude of the fixes
// received during window, starting at the first fix with a usable
// solution. Periodic data must already be enabled. onFix, when not nil,
// sees every fix read during the survey.
func SurveyPosition(ctx context.Context, d *Driver, window time.Duration, onFix func(gnss.Fix)) (Survey, error) {
	var (
		first         time.Time
		lat, lon, alt float64
		samples       int
		last          gnss.Position
	)
	for {
		fix, err := d.Next(ctx)
		if err != nil {
			if samples > 0 && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return Survey{}, err
		}
		if onFix != nil {
			onFix(fix)
		}
		p := fix.Position
		if p.Solution == gnss.NoSolution || p.Solution == gnss.Invalid {
			continue
		}
		if first.IsZero() {
			first = p.Time
			log.Printf("mb500 survey started window=%s", window)
		}
		lat += p.Latitude
		lon += p.Longitude
		alt += p.Altitude
		samples++
		last = p
		if p.Time.Sub(first) > window {
			break
		}
	}
	if samples == 0 {
		return Survey{}, ErrNoSolution
	}
	avg := last
	avg.Latitude = lat / float64(samples)
	avg.Longitude = lon / float64(samples)
	avg.Altitude = alt / float64(samples)
	return Survey{Position: avg, Samples: samples}, nil
}

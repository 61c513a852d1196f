// Package pricing converts a travel distance into a quoted price and an
// arrival estimate. Pure and deterministic, no I/O.
package pricing

import "math"

const (
	defaultPerKm        = 1.5
	defaultBase         = 20.0
	defaultMinutesPerKm = 2.0
)

// Estimator derives a price and ETA from a distance in kilometers.
// The zero value uses the standard rates.
type Estimator struct {
	PerKm        float64
	Base         float64
	MinutesPerKm float64
}

// Quote is the pricing result for a single request.
type Quote struct {
	Price      float64
	ETAMinutes int
}

// ForRates returns an estimator using mechanic-specific rates, falling
// back to the defaults for any rate left at zero.
func ForRates(perKm, base float64) Estimator {
	return Estimator{PerKm: perKm, Base: base}
}

// Estimate prices a job at distanceKm away: price = distance*perKm + base,
// eta = round(distance * minutesPerKm).
func (e Estimator) Estimate(distanceKm float64) Quote {
	perKm := e.PerKm
	if perKm <= 0 {
		perKm = defaultPerKm
	}
	base := e.Base
	if base <= 0 {
		base = defaultBase
	}
	minutesPerKm := e.MinutesPerKm
	if minutesPerKm <= 0 {
		minutesPerKm = defaultMinutesPerKm
	}
	return Quote{
		Price:      distanceKm*perKm + base,
		ETAMinutes: int(math.Round(distanceKm * minutesPerKm)),
	}
}

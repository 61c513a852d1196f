package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vishnandaman/road-assist/internal/roadside/pricing"
)

func TestEstimateZeroDistance(t *testing.T) {
	q := pricing.Estimator{}.Estimate(0)
	require.Equal(t, 20.0, q.Price)
	require.Equal(t, 0, q.ETAMinutes)
}

func TestEstimateTenKilometers(t *testing.T) {
	q := pricing.Estimator{}.Estimate(10)
	require.Equal(t, 35.0, q.Price)
	require.Equal(t, 20, q.ETAMinutes)
}

func TestEstimateMonotonic(t *testing.T) {
	e := pricing.Estimator{}
	prev := e.Estimate(0)
	for _, km := range []float64{0.5, 1, 2.5, 5, 10, 50, 120} {
		q := e.Estimate(km)
		require.GreaterOrEqual(t, q.Price, prev.Price)
		require.GreaterOrEqual(t, q.ETAMinutes, prev.ETAMinutes)
		prev = q
	}
}

func TestEstimateMechanicRates(t *testing.T) {
	q := pricing.ForRates(2.0, 10).Estimate(5)
	require.Equal(t, 20.0, q.Price)
	require.Equal(t, 10, q.ETAMinutes)
}

func TestEstimateZeroRatesFallBack(t *testing.T) {
	q := pricing.ForRates(0, 0).Estimate(10)
	require.Equal(t, 35.0, q.Price)
}

package geo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "geo_search_seconds",
	Help:    "Time spent answering nearby-within-radius queries.",
	Buckets: prometheus.DefBuckets,
}, []string{"backend"})

func observe(o prometheus.Observer) func() {
	start := time.Now()
	return func() { o.Observe(time.Since(start).Seconds()) }
}

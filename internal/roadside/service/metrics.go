package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var acceptAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "accept_attempts_total",
	Help: "Total request accept attempts grouped by outcome.",
}, []string{"result"})

func acceptOutcome(result string) {
	acceptAttempts.WithLabelValues(result).Inc()
}

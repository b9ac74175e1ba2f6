package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var TimeTaken = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ethotp_response_time_seconds",
	Help:    "The time between issuing a challenge and accepting its signed response (seconds)",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 60, 16),
}, []string{"scheme"})

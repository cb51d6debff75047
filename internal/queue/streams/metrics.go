package streams

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_published_total",
			Help: "Events published to Redis streams",
		},
		[]string{"event_type"},
	)

	consumedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_consumed_total",
			Help: "Events consumed from Redis streams",
		},
		[]string{"event_type"},
	)
)

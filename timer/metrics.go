package timer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fired = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "timer_fired_total",
		Help: "The total number of timer expirations",
	}, []string{"service", "callback"})

	// resyncs counts expirations that found the timer more than one period
	// late; the missed periods are dropped instead of fired back to back.
	resyncs = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "timer_resyncs_total",
		Help: "The total number of late timers re-anchored to the current tick",
	}, []string{"service", "callback"})

	active = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "timer_active",
		Help: "The number of armed timers",
	}, []string{"service"})
)

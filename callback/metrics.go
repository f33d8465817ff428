package callback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for callback dispatch, labeled by interface (and target
// where the target matters).

var (
	// invocations counts calls to Invoke and InvokeHandle.
	invocations = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "callback_invocations_total",
		Help: "The total number of callback interface invocations",
	}, []string{"interface"})

	// dispatched counts deliveries accepted by a target.
	dispatched = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "callback_dispatched_total",
		Help: "The total number of deliveries handed to a dispatch target",
	}, []string{"interface", "target"})

	// dispatchFailures counts deliveries a target refused (e.g. thread not running).
	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "callback_dispatch_failures_total",
		Help: "The total number of deliveries rejected by a dispatch target",
	}, []string{"interface", "target"})

	// staleDropped counts queued deliveries whose subscription went away before they ran.
	staleDropped = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "callback_stale_dropped_total",
		Help: "The total number of deliveries dropped because the subscription was unregistered",
	}, []string{"interface"})

	// subscriptions tracks live subscriptions per interface.
	subscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "callback_subscriptions",
		Help: "The number of live subscriptions",
	}, []string{"interface"})
)

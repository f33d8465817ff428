package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for worker threads, labeled by thread name.

var (
	// aliveThreads tracks threads whose consumer loop is running.
	aliveThreads = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "worker_alive_threads",
		Help: "The number of worker threads currently running",
	}, []string{"thread"})

	// enqueued counts messages accepted onto a thread's queue.
	enqueued = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "worker_enqueued_messages_total",
		Help: "The total number of messages enqueued",
	}, []string{"thread", "kind"})

	// processed counts messages popped and handled by the consumer loop.
	processed = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "worker_processed_messages_total",
		Help: "The total number of messages processed",
	}, []string{"thread", "kind"})

	// drained counts messages discarded by shutdown.
	drained = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "worker_drained_messages_total",
		Help: "The total number of queued messages discarded at shutdown",
	}, []string{"thread"})

	// queueDepth tracks the queue length after each pop.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "worker_queue_depth",
		Help: "The number of messages waiting in the queue",
	}, []string{"thread"})

	// panics counts callback bodies that panicked.
	panics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "worker_callback_panics_total",
		Help: "The total number of callback deliveries that panicked",
	}, []string{"thread"})

	// processingTime measures how long each delivery took to run.
	processingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name: "worker_delivery_processing_seconds",
		Help: "The time spent running a callback delivery",
		Buckets: []float64{
			0.0001, // 100us
			0.001,  // 1ms
			0.01,   // 10ms
			0.1,    // 100ms
			1,      // 1s
		},
	}, []string{"thread"})
)

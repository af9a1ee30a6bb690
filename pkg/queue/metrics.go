package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentlens_writer_processed_total",
		Help: "Messages written to the event store by the batch writer.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentlens_writer_failed_total",
		Help: "Write attempts that failed and were requeued.",
	})
	dlqdTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentlens_writer_dlqd_total",
		Help: "Messages moved to the dead-letter stream after retry exhaustion.",
	})
)

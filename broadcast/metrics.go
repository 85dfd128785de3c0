package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacksonlevine/pictosend/metrics"
)

const subsystem = "broadcast"

var (
	updates = metrics.NewCounter(
		"updates",
		subsystem,
		"number of dispatched updates",
		[]string{},
	).WithLabelValues()
	droppedDeliveries = metrics.NewCounter(
		"dropped_deliveries",
		subsystem,
		"number of deliveries dropped because the outbound queue was full",
		[]string{},
	).WithLabelValues()
	dispatchLatency = metrics.NewHistogramWithBuckets(
		"dispatch_seconds",
		subsystem,
		"time to append and fan out an update",
		[]string{},
		prometheus.ExponentialBuckets(0.0001, 2, 14),
	).WithLabelValues()
)

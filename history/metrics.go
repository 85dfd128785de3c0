package history

import (
	"github.com/jacksonlevine/pictosend/metrics"
)

const subsystem = "history"

var (
	entriesGauge = metrics.NewGauge(
		"entries",
		subsystem,
		"number of records in the history log",
		[]string{},
	).WithLabelValues()
	appendsCounter = metrics.NewCounter(
		"appends",
		subsystem,
		"number of records appended to the history log",
		[]string{},
	).WithLabelValues()
	evictionsCounter = metrics.NewCounter(
		"evictions",
		subsystem,
		"number of records evicted from the history log",
		[]string{},
	).WithLabelValues()
	persistFailures = metrics.NewCounter(
		"persist_failures",
		subsystem,
		"number of failed attempts to persist the history log",
		[]string{},
	).WithLabelValues()
)

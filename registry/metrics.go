package registry

import (
	"github.com/jacksonlevine/pictosend/metrics"
)

const subsystem = "registry"

var (
	sessionsGauge = metrics.NewGauge(
		"sessions",
		subsystem,
		"number of connected sessions",
		[]string{},
	).WithLabelValues()
	syncedGauge = metrics.NewGauge(
		"synced_sessions",
		subsystem,
		"number of sessions receiving broadcasts",
		[]string{},
	).WithLabelValues()
)

package server

import (
	"github.com/jacksonlevine/pictosend/metrics"
)

const subsystem = "server"

var (
	connections = metrics.NewCounter(
		"connections",
		subsystem,
		"number of accepted connections",
		[]string{},
	).WithLabelValues()
	disconnects = metrics.NewCounter(
		"disconnects",
		subsystem,
		"number of closed sessions by reason",
		[]string{"reason"},
	)
	handshakes = metrics.NewCounter(
		"handshakes",
		subsystem,
		"number of catch up handshakes by result",
		[]string{"result"},
	)
	strikesCounter = metrics.NewCounter(
		"strikes",
		subsystem,
		"number of errors recorded against sessions",
		[]string{},
	).WithLabelValues()
	writeFailures = metrics.NewCounter(
		"write_failures",
		subsystem,
		"number of failed writes to sessions",
		[]string{},
	).WithLabelValues()
)

package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jacksonlevine/pictosend/config"
)

func init() {
	register("standalone", standalone())
	register("public", public())
}

// standalone serves only the local machine and keeps history in the temp dir.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.ListenAddr = "127.0.0.1:6969"
	conf.HistoryPath = filepath.Join(os.TempDir(), "pictosend", "history")
	conf.MetricsAddr = "127.0.0.1:9090"

	conf.LOGGING.ServerLoggerLevel = "debug"
	conf.LOGGING.BroadcastLoggerLevel = "debug"
	return conf
}

// public is meant for a shared deployment: structured logs, metrics and
// a higher tolerance for slow clients.
func public() config.Config {
	conf := config.DefaultConfig()
	conf.CollectMetrics = true
	conf.QueueSize = 256
	conf.Server.FrameTimeout = 30 * time.Second

	conf.LOGGING.Encoder = "json"
	return conf
}

package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/jacksonlevine/pictosend/config"
	"github.com/jacksonlevine/pictosend/config/presets"
)

// AddFlags adds the server flags to flagSet, bound to fields of cfg.
// It returns the location of the config file path flag.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) (configPath *string) {
	configPath = flagSet.StringP("config", "c", "", "load configuration from file")
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== BaseConfig Flags ========================== **/
	flagSet.StringVar(&cfg.ListenAddr, "listen-addr",
		cfg.ListenAddr, "address for accepting board clients")
	flagSet.StringVar(&cfg.HistoryPath, "history-path",
		cfg.HistoryPath, "file storing the update history")
	flagSet.IntVar(&cfg.MaxHistory, "max-history",
		cfg.MaxHistory, "maximum number of updates kept in the history")
	flagSet.IntVar(&cfg.QueueSize, "queue-size",
		cfg.QueueSize, "number of frames queued for a client before deliveries are dropped")
	flagSet.DurationVar(&cfg.PersistRetry, "persist-retry",
		cfg.PersistRetry, "interval between attempts to persist the history after a failure")
	flagSet.BoolVar(&cfg.CollectMetrics, "metrics",
		cfg.CollectMetrics, "serve prometheus metrics")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr",
		cfg.MetricsAddr, "address of the metrics server")
	flagSet.StringVar(&cfg.MetricsPush, "metrics-push",
		cfg.MetricsPush, "push metrics to url")
	flagSet.DurationVar(&cfg.MetricsPushPeriod, "metrics-push-period",
		cfg.MetricsPushPeriod, "push period")
	flagSet.StringToStringVar(&cfg.MetricsPushHeader, "metrics-push-header",
		cfg.MetricsPushHeader, "headers added to metrics push requests")

	/** ======================== Server Flags ========================== **/
	flagSet.DurationVar(&cfg.Server.ReadTimeout, "read-timeout",
		cfg.Server.ReadTimeout, "how long a client may stay silent before the read is retried")
	flagSet.DurationVar(&cfg.Server.FrameTimeout, "frame-timeout",
		cfg.Server.FrameTimeout, "time allowed to complete a frame once it started")
	flagSet.DurationVar(&cfg.Server.ErrorPause, "error-pause",
		cfg.Server.ErrorPause, "pause after a failed read")
	flagSet.IntVar(&cfg.Server.MaxStrikes, "max-strikes",
		cfg.Server.MaxStrikes, "number of errors tolerated before a client is disconnected")

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.LOGGING.Encoder, "log-encoder",
		cfg.LOGGING.Encoder, "log as console or json")
	return configPath
}

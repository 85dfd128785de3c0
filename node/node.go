// Package node contains the main executable of the board server.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlevine/pictosend/broadcast"
	"github.com/jacksonlevine/pictosend/cmd"
	"github.com/jacksonlevine/pictosend/config"
	"github.com/jacksonlevine/pictosend/config/presets"
	"github.com/jacksonlevine/pictosend/filesystem"
	"github.com/jacksonlevine/pictosend/history"
	"github.com/jacksonlevine/pictosend/log"
	"github.com/jacksonlevine/pictosend/metrics"
	"github.com/jacksonlevine/pictosend/registry"
	"github.com/jacksonlevine/pictosend/server"
)

// Logger names.
const (
	AppLogger       = "app"
	ServerLogger    = "server"
	HistoryLogger   = "history"
	BroadcastLogger = "broadcast"
	RegistryLogger  = "registry"
)

// GetCommand returns the command that runs the board server.
func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath *string
	c := &cobra.Command{
		Use:   "pictosend",
		Short: "start the drawing board server",
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			encoder, err := log.Encoder(conf.LOGGING.Encoder)
			if err != nil {
				return err
			}
			app := New(
				WithConfig(&conf),
				WithLog(log.New("pictosend", encoder, nil)),
			)

			// os.Interrupt for all systems, especially windows, syscall.SIGTERM is mainly for docker.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Lock(); err != nil {
				return fmt.Errorf("getting exclusive file lock: %w", err)
			}
			defer app.Unlock()

			if err := app.Initialize(); err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			app.log.Info("server stopped")
			return nil
		},
	}

	configPath = cmd.AddFlags(c.PersistentFlags(), &conf)
	return c
}

func configure(c *cobra.Command, configPath string, conf *config.Config) error {
	preset := conf.Preset // might be set via CLI flag
	if err := loadConfig(conf, preset, configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// apply CLI args to config
	if err := c.ParseFlags(os.Args[1:]); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// loadConfig loads config and preset (if provided) into the provided config.
// It first loads the preset and then overrides it with values from the config file.
func loadConfig(cfg *config.Config, preset, path string) error {
	v := viper.New()
	// read in config from file
	if err := config.LoadConfig(path, v); err != nil {
		return err
	}

	// override default config with preset if provided
	if len(preset) == 0 && v.IsSet("main.preset") {
		preset = v.GetString("main.preset")
	}
	if len(preset) > 0 {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*cfg = p
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)

	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		WithZeroFields(),
		WithIgnoreUntagged(),
		WithErrorUnused(),
	}

	// load config if it was loaded to the viper
	if err := v.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func WithZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

func WithIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

func WithErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}

// Option to modify an App instance.
type Option func(app *App)

// WithLog sets the root logger. Component loggers are derived from it, so its
// core should accept every level.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// WithConfig overrides default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// New creates an instance of the board server.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config:  &defaultConfig,
		log:     zap.NewNop(),
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	app.loggers = log.NewLoggers(app.log)
	return app
}

// App is the board server. It owns the history, the registry of connected
// clients, the dispatcher and the listener.
type App struct {
	Config *config.Config

	log      *zap.Logger
	loggers  *log.Loggers
	fileLock *flock.Flock

	history    *history.Log
	registry   *registry.Registry
	dispatcher *broadcast.Dispatcher
	server     *server.Server

	serverLog *zap.Logger
	started   chan struct{}
}

// Started is closed once the server accepts connections.
func (app *App) Started() <-chan struct{} {
	return app.started
}

// Addr returns the address clients connect to. It is nil until Started is closed.
func (app *App) Addr() net.Addr {
	select {
	case <-app.started:
		return app.server.Addr()
	default:
		return nil
	}
}

// Lock locks the app for exclusive use. It returns an error if the app is already locked.
func (app *App) Lock() error {
	if err := filesystem.EnsureParentDir(app.Config.HistoryFile()); err != nil {
		return err
	}
	path := app.Config.LockFile()
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", path, err)
	} else if !locked {
		return fmt.Errorf("only one pictosend instance should be running (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the app. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
}

// Initialize sets up logging and loads the persisted history.
// A history that cannot be loaded is fatal.
func (app *App) Initialize() error {
	if err := app.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	levels, err := decodeLoggerLevels(app.Config)
	if err != nil {
		return err
	}
	loggers := map[string]*zap.Logger{}
	for _, name := range []string{AppLogger, ServerLogger, HistoryLogger, BroadcastLogger, RegistryLogger} {
		logger, err := app.loggers.Add(name, levels[name])
		if err != nil {
			return err
		}
		loggers[name] = logger
	}
	app.log = loggers[AppLogger]
	app.serverLog = loggers[ServerLogger]
	app.log.Info("starting pictosend", app.appInfo()...)

	if err := filesystem.EnsureParentDir(app.Config.HistoryFile()); err != nil {
		return err
	}
	app.history = history.New(
		history.NewFileStore(app.Config.HistoryFile()),
		history.WithLogger(loggers[HistoryLogger]),
		history.WithCapacity(app.Config.MaxHistory),
		history.WithRetryInterval(app.Config.PersistRetry),
	)
	if err := app.history.Load(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	app.registry = registry.New(
		registry.WithLogger(loggers[RegistryLogger]),
		registry.WithQueueSize(app.Config.QueueSize),
	)
	app.dispatcher = broadcast.New(app.history, app.registry,
		broadcast.WithLogger(loggers[BroadcastLogger]),
	)
	return nil
}

func (app *App) appInfo() []zap.Field {
	return []zap.Field{
		zap.String("version", cmd.Version),
		zap.String("branch", cmd.Branch),
		zap.String("commit", cmd.Commit),
		zap.String("go", runtime.Version()),
		zap.String("os", runtime.GOOS+"-"+runtime.GOARCH),
	}
}

// decodeLoggerLevels maps logger names to their configured levels.
func decodeLoggerLevels(cfg *config.Config) (map[string]string, error) {
	levels := map[string]string{}
	if err := mapstructure.Decode(cfg.LOGGING, &levels); err != nil {
		return nil, fmt.Errorf("decode logger levels: %w", err)
	}
	return levels, nil
}

// SetLogLevel updates the log level of an existing logger.
func (app *App) SetLogLevel(name, level string) error {
	return app.loggers.SetLevel(name, level)
}

// Start listens for clients and runs every service until ctx is canceled or
// one of them fails. Initialize must be called first.
func (app *App) Start(ctx context.Context) error {
	if app.history == nil {
		return errors.New("app is not initialized")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", app.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.Config.ListenAddr, err)
	}
	app.server = server.New(ln, app.dispatcher, app.registry,
		server.WithLogger(app.serverLog),
		server.WithConfig(app.Config.Server),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return app.history.Run(ctx)
	})
	eg.Go(func() error {
		return app.dispatcher.Run(ctx)
	})
	eg.Go(func() error {
		return app.server.Run(ctx)
	})
	if app.Config.CollectMetrics {
		eg.Go(func() error {
			return metrics.StartCollectingMetrics(ctx, app.Config.MetricsAddr, app.log)
		})
	}
	if app.Config.MetricsPush != "" {
		instance, err := os.Hostname()
		if err != nil {
			instance = app.server.Addr().String()
		}
		eg.Go(func() error {
			metrics.StartPushingMetrics(
				ctx,
				app.log,
				app.Config.MetricsPush,
				app.Config.MetricsPushHeader,
				app.Config.MetricsPushPeriod,
				instance,
			)
			return nil
		})
	}
	close(app.started)
	app.log.Info("app started", zap.Stringer("addr", app.server.Addr()), zap.Int("history", app.history.Len()))
	return eg.Wait()
}

// Package log builds the zap loggers used by pictosend components.
package log

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ConsoleEncoder logs plain text.
	ConsoleEncoder = "console"
	// JSONEncoder logs one JSON object per line.
	JSONEncoder = "json"
)

// where logs go by default.
var logWriter io.Writer = os.Stdout

// DefaultLevel is used for components without a configured level.
func DefaultLevel() zapcore.Level {
	return zapcore.InfoLevel
}

// Encoder returns the encoder for kind. Unknown kinds are an error.
func Encoder(kind string) (zapcore.Encoder, error) {
	switch kind {
	case "", ConsoleEncoder:
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	case JSONEncoder:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	default:
		return nil, fmt.Errorf("unknown log encoder %q", kind)
	}
}

// New creates a logger writing to w. The core accepts every level,
// children filter with their own level (see Loggers).
func New(module string, encoder zapcore.Encoder, w io.Writer) *zap.Logger {
	if w == nil {
		w = logWriter
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	return zap.New(core).Named(module)
}

// WithLevel returns a child of logger filtered by level. Changes to level
// apply to the child immediately.
func WithLevel(logger *zap.Logger, level *zap.AtomicLevel) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &coreWithLevel{Core: core, lvl: level}
	}))
}

type coreWithLevel struct {
	zapcore.Core
	lvl *zap.AtomicLevel
}

func (c *coreWithLevel) Enabled(level zapcore.Level) bool {
	return c.lvl.Enabled(level)
}

func (c *coreWithLevel) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.lvl.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c.Core)
}

func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{Core: c.Core.With(fields), lvl: c.lvl}
}

// Loggers hands out named component loggers, each with its own adjustable level.
type Loggers struct {
	root *zap.Logger

	mu     sync.Mutex
	levels map[string]*zap.AtomicLevel
}

func NewLoggers(root *zap.Logger) *Loggers {
	return &Loggers{root: root, levels: map[string]*zap.AtomicLevel{}}
}

// Add returns a logger named name at level. An empty level means DefaultLevel.
func (l *Loggers) Add(name, level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(DefaultLevel())
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("parse level for %v: %w", name, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[name] = &lvl
	return WithLevel(l.root, &lvl).Named(name), nil
}

// SetLevel changes the level of an existing logger.
func (l *Loggers) SetLevel(name, level string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl, ok := l.levels[name]
	if !ok {
		return fmt.Errorf("cannot find logger %v", name)
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("unmarshal text: %w", err)
	}
	return nil
}

// Level returns the level of the logger, DefaultLevel if it does not exist.
func (l *Loggers) Level(name string) zapcore.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl, ok := l.levels[name]; ok {
		return lvl.Level()
	}
	return DefaultLevel()
}

// Names returns the names of all added loggers, sorted.
func (l *Loggers) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.levels))
}

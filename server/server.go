// Package server accepts board clients and runs a handler for every connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlevine/pictosend/broadcast"
	"github.com/jacksonlevine/pictosend/registry"
)

// Config for the server.
type Config struct {
	// ReadTimeout bounds the wait for the first byte of a frame. Expiring it while
	// idle is not an error, it only lets the handler observe shutdown.
	ReadTimeout time.Duration `mapstructure:"read-timeout"`
	// FrameTimeout bounds reading the rest of a frame once it has started,
	// and writing a single queued frame.
	FrameTimeout time.Duration `mapstructure:"frame-timeout"`
	// ErrorPause is how long the handler waits after a read error.
	ErrorPause time.Duration `mapstructure:"error-pause"`
	// MaxStrikes is the number of errors a session may accumulate. The session
	// is disconnected on the next one.
	MaxStrikes int `mapstructure:"max-strikes"`
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:  time.Second,
		FrameTimeout: 10 * time.Second,
		ErrorPause:   50 * time.Millisecond,
		MaxStrikes:   4,
	}
}

type Opt func(*Server)

// WithLogger configures the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithConfig overrides the default config.
func WithConfig(cfg Config) Opt {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithClock overrides the clock used for pauses after errors.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Server) {
		s.clock = clock
	}
}

// Server serves the board protocol on a listener.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	clock      clockwork.Clock
	listener   net.Listener
	dispatcher *broadcast.Dispatcher
	registry   *registry.Registry
}

func New(ln net.Listener, dispatcher *broadcast.Dispatcher, reg *registry.Registry, opts ...Opt) *Server {
	s := &Server{
		logger:     zap.NewNop(),
		cfg:        DefaultConfig(),
		clock:      clockwork.NewRealClock(),
		listener:   ln,
		dispatcher: dispatcher,
		registry:   reg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until ctx is canceled or the listener fails.
// On return the listener and every connection are closed.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		s.listener.Close()
		s.registry.CloseAll()
		return nil
	})
	eg.Go(func() error {
		s.logger.Info("accepting connections", zap.Stringer("addr", s.listener.Addr()))
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					s.logger.Warn("accept timed out", zap.Error(err))
					continue
				}
				return fmt.Errorf("accept: %w", err)
			}
			connections.Inc()
			eg.Go(func() error {
				s.serve(ctx, conn)
				return nil
			})
		}
	})
	return eg.Wait()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	sess := s.registry.Register(conn)
	logger := s.logger.With(zap.Stringer("id", sess.ID), zap.Stringer("remote", conn.RemoteAddr()))
	logger.Info("client connected")

	var eg errgroup.Group
	eg.Go(func() error {
		s.write(logger, sess)
		return nil
	})
	h := newHandler(s, sess, logger)
	reason := h.run(ctx)

	s.registry.Remove(sess.ID)
	sess.Close()
	eg.Wait()
	disconnects.WithLabelValues(reason).Inc()
	logger.Info("client disconnected", zap.String("reason", reason))
}

// write drains the session queue onto the connection until the session is
// closed or a write fails.
func (s *Server) write(logger *zap.Logger, sess *registry.Session) {
	for {
		select {
		case <-sess.Done():
			return
		case buf := <-sess.Outbound():
			if err := sess.Conn.SetWriteDeadline(time.Now().Add(s.cfg.FrameTimeout)); err != nil {
				logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if _, err := sess.Conn.Write(buf); err != nil {
				// a partial frame leaves every later frame misaligned
				writeFailures.Inc()
				logger.Warn("write failed, closing session", zap.Int("size", len(buf)), zap.Error(err))
				sess.Break()
				return
			}
		}
	}
}

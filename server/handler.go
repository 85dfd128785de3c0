package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlevine/pictosend/broadcast"
	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/registry"
	"github.com/jacksonlevine/pictosend/wire"
)

var (
	errIdle         = errors.New("no frame within read timeout")
	errFrameTimeout = errors.New("frame not completed within frame timeout")
	errDropped      = errors.New("outbound delivery dropped")
)

// disconnect reasons
const (
	reasonClosed    = "closed"
	reasonStrikes   = "strikes"
	reasonMalformed = "malformed"
	reasonTimeout   = "frame_timeout"
	reasonShutdown  = "shutdown"
	reasonWrite     = "write_failed"
)

type handshakeState int

const (
	// no handshake in progress
	awaitLengthRequest handshakeState = iota
	// HistoryLength was queued, waiting for RequestHistory
	awaitHistoryRequest
	// snapshot was queued, waiting for ConfirmReceivedHistory
	awaitConfirm
)

// handler runs the read loop of a single connection.
type handler struct {
	srv    *Server
	sess   *registry.Session
	logger *zap.Logger
	r      *bufio.Reader

	state handshakeState
	// snapshot announced by the last HistoryLength response and its sequence number
	snapshot []byte
	seq      uint64
}

func newHandler(srv *Server, sess *registry.Session, logger *zap.Logger) *handler {
	return &handler{
		srv:    srv,
		sess:   sess,
		logger: logger,
		r:      bufio.NewReaderSize(sess.Conn, wire.DataFrameSize),
	}
}

// run reads frames until the session must be torn down and returns the reason.
func (h *handler) run(ctx context.Context) string {
	for ctx.Err() == nil {
		if h.sess.Broken() {
			return reasonWrite
		}
		if n := h.sess.TakeWriteFailures(); n > 0 {
			if h.strike(ctx, n, errDropped) {
				return reasonStrikes
			}
		}
		f, err := h.read()
		switch {
		case err == nil:
			if !h.handle(ctx, f) {
				return reasonShutdown
			}
		case errors.Is(err, errIdle):
		case isClosed(err):
			if ctx.Err() != nil {
				return reasonShutdown
			}
			if h.sess.Broken() {
				return reasonWrite
			}
			return reasonClosed
		case errors.Is(err, wire.ErrMalformed):
			h.logger.Warn("malformed frame", zap.Error(err))
			return reasonMalformed
		case errors.Is(err, errFrameTimeout):
			h.logger.Warn("incomplete frame", zap.Error(err))
			return reasonTimeout
		default:
			if h.state != awaitLengthRequest {
				h.abort("read failed")
			}
			if h.strike(ctx, 1, err) {
				return reasonStrikes
			}
		}
	}
	return reasonShutdown
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (h *handler) read() (*wire.Frame, error) {
	conn := h.sess.Conn
	if err := conn.SetReadDeadline(time.Now().Add(h.srv.cfg.ReadTimeout)); err != nil {
		return nil, err
	}
	kind, err := h.r.ReadByte()
	if err != nil {
		if isTimeout(err) {
			return nil, errIdle
		}
		return nil, err
	}
	size, err := wire.BodySize(wire.Kind(kind))
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(h.srv.cfg.FrameTimeout)); err != nil {
		return nil, err
	}
	raw := make([]byte, 1+size)
	raw[0] = kind
	if _, err := io.ReadFull(h.r, raw[1:]); err != nil {
		if isTimeout(err) {
			return nil, errFrameTimeout
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return wire.DecodeBody(wire.Kind(kind), raw)
}

// strike records n errors and pauses. It returns true if the session must be torn down.
func (h *handler) strike(ctx context.Context, n int, err error) bool {
	strikesCounter.Add(float64(n))
	strikes, ok := h.srv.registry.RecordErrors(h.sess.ID, n)
	if !ok {
		return true
	}
	if strikes > h.srv.cfg.MaxStrikes {
		h.logger.Warn("too many errors",
			zap.Int("strikes", strikes),
			zap.Int("max", h.srv.cfg.MaxStrikes),
			zap.Error(err),
		)
		return true
	}
	h.logger.Debug("session error", zap.Int("strikes", strikes), zap.Error(err))
	select {
	case <-h.srv.clock.After(h.srv.cfg.ErrorPause):
		return false
	case <-ctx.Done():
		return true
	}
}

// handle processes a frame. It returns false if the server is shutting down.
func (h *handler) handle(ctx context.Context, f *wire.Frame) bool {
	switch f.Kind {
	case wire.KindData:
		return h.data(ctx, f)
	case wire.KindControl:
		return h.control(ctx, f.Control)
	}
	return true
}

func (h *handler) data(ctx context.Context, f *wire.Frame) bool {
	if h.state != awaitLengthRequest {
		h.abort("data frame")
	}
	if f.Data.RequestHistoryLength {
		h.logger.Debug("ignoring data record with legacy history request", zap.Object("record", f.Data))
		return true
	}
	_, err := h.srv.dispatcher.OnDataRecord(ctx, h.sess.ID, f)
	switch {
	case errors.Is(err, broadcast.ErrStopped) || ctx.Err() != nil:
		return false
	case err != nil:
		h.logger.Warn("update delivered but not persisted", zap.Object("record", f.Data), zap.Error(err))
	}
	return true
}

func (h *handler) control(ctx context.Context, ctrl *types.ControlRecord) bool {
	switch {
	case ctrl.Tag == types.RequestHistoryLength:
		if h.state != awaitLengthRequest {
			h.abort("handshake restarted")
		}
		return h.sendLength(ctx)
	case h.state == awaitHistoryRequest && ctrl.Tag == types.RequestHistory:
		if !h.enqueue(h.snapshot) {
			h.abort("outbound queue full")
			return true
		}
		h.snapshot = nil
		h.state = awaitConfirm
	case h.state == awaitConfirm && ctrl.Tag == types.ConfirmReceivedHistory:
		synced, err := h.srv.dispatcher.Sync(ctx, h.sess.ID, h.seq)
		if err != nil {
			return false
		}
		h.state = awaitLengthRequest
		if synced {
			handshakes.WithLabelValues("completed").Inc()
			h.logger.Info("client caught up")
		}
	case h.state != awaitLengthRequest:
		h.abort("unexpected " + ctrl.Tag.String())
	default:
		h.logger.Debug("ignoring control record outside of handshake", zap.Object("control", ctrl))
	}
	return true
}

func (h *handler) sendLength(ctx context.Context) bool {
	// stop broadcasts first so that nothing is queued between the length and the snapshot
	if err := h.srv.dispatcher.Desync(ctx, h.sess.ID); err != nil {
		return false
	}
	handshakes.WithLabelValues("started").Inc()
	records, seq := h.srv.dispatcher.Records()
	snapshot, err := wire.EncodeHistory(records)
	if err != nil {
		h.logger.Error("failed to encode history", zap.Error(err))
		h.abort("encode history")
		return true
	}
	ctrl, err := wire.HistoryLengthRecord(len(snapshot))
	if err != nil {
		h.logger.Error("history snapshot too large", zap.Error(err))
		h.abort("encode history")
		return true
	}
	buf, err := wire.EncodeControl(ctrl)
	if err != nil {
		h.logger.Error("failed to encode history length", zap.Error(err))
		h.abort("encode history")
		return true
	}
	if !h.enqueue(buf) {
		h.abort("outbound queue full")
		return true
	}
	h.logger.Debug("sent history length",
		zap.Int("records", len(records)),
		zap.Int("size", len(snapshot)),
		zap.Uint64("seq", seq),
	)
	h.snapshot = snapshot
	h.seq = seq
	h.state = awaitHistoryRequest
	return true
}

func (h *handler) enqueue(buf []byte) bool {
	if h.sess.Enqueue(buf) {
		return true
	}
	h.sess.AddWriteFailure()
	return false
}

// abort drops the handshake in progress. The session stays unsynced until it completes a new one.
func (h *handler) abort(reason string) {
	if h.state != awaitLengthRequest {
		handshakes.WithLabelValues("aborted").Inc()
		h.logger.Debug("handshake aborted", zap.String("reason", reason))
	}
	h.state = awaitLengthRequest
	h.snapshot = nil
}

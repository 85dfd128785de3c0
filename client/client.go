// Package client implements the client side of the board protocol.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/wire"
)

// ErrUnexpectedFrame is returned when the server answers a handshake step with another control record.
var ErrUnexpectedFrame = errors.New("unexpected frame")

type Opt func(*Client)

// WithLogger configures the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is a connection to the board server. It is not safe for concurrent use,
// except for Close.
type Client struct {
	logger *zap.Logger
	conn   net.Conn
	r      *bufio.Reader
	// updates received while waiting for a handshake response
	pending []*types.UpdateRecord
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string, opts ...Opt) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Opt) *Client {
	c := &Client{
		logger: zap.NewNop(),
		conn:   conn,
		r:      bufio.NewReaderSize(conn, wire.DataFrameSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// withContext applies the ctx deadline to the connection and interrupts blocked
// I/O when ctx is canceled. The returned function must be called once the
// operation completes.
func (c *Client) withContext(ctx context.Context) func() {
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
	}
}

// ctxErr prefers the context error over the I/O error it caused.
func ctxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	if deadline, ok := ctx.Deadline(); ok && errors.As(err, &ne) && ne.Timeout() && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// Send writes an update to the server.
func (c *Client) Send(ctx context.Context, rec *types.UpdateRecord) error {
	defer c.withContext(ctx)()
	if err := wire.WriteData(c.conn, rec); err != nil {
		return fmt.Errorf("send update: %w", ctxErr(ctx, err))
	}
	return nil
}

func (c *Client) sendControl(tag types.ControlTag) error {
	if err := wire.WriteControl(c.conn, &types.ControlRecord{Tag: tag}); err != nil {
		return fmt.Errorf("send %s: %w", tag, err)
	}
	return nil
}

// Receive returns the next update broadcast by the server. Control records
// outside of a handshake are skipped.
func (c *Client) Receive(ctx context.Context) (*types.UpdateRecord, error) {
	if len(c.pending) > 0 {
		rec := c.pending[0]
		c.pending = c.pending[1:]
		return rec, nil
	}
	defer c.withContext(ctx)()
	for {
		f, err := wire.ReadFrame(c.r)
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		if f.Kind == wire.KindData {
			return f.Data, nil
		}
		c.logger.Debug("skipping control record", zap.Object("control", f.Control))
	}
}

// nextControl reads until a control record arrives, buffering updates for Receive.
func (c *Client) nextControl() (*types.ControlRecord, error) {
	for {
		f, err := wire.ReadFrame(c.r)
		if err != nil {
			return nil, err
		}
		if f.Kind == wire.KindControl {
			return f.Control, nil
		}
		c.pending = append(c.pending, f.Data)
	}
}

// RequestHistoryLength starts a handshake and returns the announced snapshot size.
// The server stops broadcasting to the client until the handshake completes.
func (c *Client) RequestHistoryLength(ctx context.Context) (int, error) {
	defer c.withContext(ctx)()
	n, err := c.requestHistoryLength()
	return n, ctxErr(ctx, err)
}

func (c *Client) requestHistoryLength() (int, error) {
	if err := c.sendControl(types.RequestHistoryLength); err != nil {
		return 0, err
	}
	ctrl, err := c.nextControl()
	if err != nil {
		return 0, fmt.Errorf("read history length: %w", err)
	}
	if ctrl.Tag != types.HistoryLength || ctrl.Number < 0 {
		return 0, fmt.Errorf("%w: %s %d", ErrUnexpectedFrame, ctrl.Tag, ctrl.Number)
	}
	return int(ctrl.Number), nil
}

// CatchUp runs the full handshake and returns the server history in log order.
// After it returns the client receives every update appended after that history.
func (c *Client) CatchUp(ctx context.Context) ([]*types.UpdateRecord, error) {
	defer c.withContext(ctx)()
	records, err := c.catchUp()
	return records, ctxErr(ctx, err)
}

func (c *Client) catchUp() ([]*types.UpdateRecord, error) {
	size, err := c.requestHistoryLength()
	if err != nil {
		return nil, err
	}
	if err := c.sendControl(types.RequestHistory); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	records, err := wire.DecodeHistory(buf)
	if err != nil {
		return nil, err
	}
	if err := c.sendControl(types.ConfirmReceivedHistory); err != nil {
		return nil, err
	}
	c.logger.Debug("caught up", zap.Int("records", len(records)), zap.Int("size", size))
	return records, nil
}

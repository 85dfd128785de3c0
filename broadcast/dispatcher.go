// Package broadcast fans accepted updates out to synced sessions.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/history"
	"github.com/jacksonlevine/pictosend/registry"
	"github.com/jacksonlevine/pictosend/wire"
)

// ErrStopped is returned when the dispatcher is not running anymore.
var ErrStopped = errors.New("dispatcher stopped")

type Opt func(*Dispatcher)

// WithLogger configures the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

type command interface {
	run(d *Dispatcher)
}

// Dispatcher owns every mutation of the history log and every sync flag change,
// so that each synced session observes the log followed by live updates without
// gaps or duplicates.
//
// It never writes to a connection. Records are put on session outbound queues and
// a full queue drops the record for that session only.
type Dispatcher struct {
	logger   *zap.Logger
	history  *history.Log
	registry *registry.Registry

	commands chan command
	stopped  chan struct{}
}

func New(log *history.Log, reg *registry.Registry, opts ...Opt) *Dispatcher {
	d := &Dispatcher{
		logger:   zap.NewNop(),
		history:  log,
		registry: reg,
		commands: make(chan command),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes commands until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-d.commands:
			cmd.run(d)
		}
	}
}

func (d *Dispatcher) submit(ctx context.Context, cmd command, done <-chan struct{}) error {
	select {
	case d.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrStopped
	}
}

type dataCommand struct {
	sender uuid.UUID
	frame  *wire.Frame
	done   chan struct{}

	recipients int
	err        error
}

func (c *dataCommand) run(d *Dispatcher) {
	defer close(c.done)
	c.recipients, c.err = d.dispatch(c.sender, c.frame)
}

// OnDataRecord appends the record carried by frame to the history and queues
// the raw frame to every synced session, sender included when it is synced.
//
// The frame is delivered even if persisting the history fails. In that case
// the persistence error is returned after delivery.
func (d *Dispatcher) OnDataRecord(ctx context.Context, sender uuid.UUID, frame *wire.Frame) (int, error) {
	if frame.Kind != wire.KindData || frame.Data == nil {
		return 0, fmt.Errorf("dispatch %s frame: not a data frame", frame.Kind)
	}
	cmd := &dataCommand{sender: sender, frame: frame, done: make(chan struct{})}
	if err := d.submit(ctx, cmd, cmd.done); err != nil {
		return 0, err
	}
	return cmd.recipients, cmd.err
}

func (d *Dispatcher) dispatch(sender uuid.UUID, frame *wire.Frame) (int, error) {
	start := time.Now()
	_, err := d.history.Append(frame.Data)
	updates.Inc()
	sessions := d.registry.SyncedSessions(uuid.Nil)
	for _, s := range sessions {
		if !s.Enqueue(frame.Raw) {
			d.drop(s)
		}
	}
	dispatchLatency.Observe(time.Since(start).Seconds())
	d.logger.Debug("dispatched update",
		zap.Stringer("sender", sender),
		zap.Object("record", frame.Data),
		zap.Int("recipients", len(sessions)),
	)
	return len(sessions), err
}

func (d *Dispatcher) drop(s *registry.Session) {
	s.AddWriteFailure()
	droppedDeliveries.Inc()
	d.logger.Debug("outbound queue full, dropped delivery", zap.Object("session", s))
}

type syncCommand struct {
	id   uuid.UUID
	seq  uint64
	done chan struct{}

	synced bool
}

func (c *syncCommand) run(d *Dispatcher) {
	defer close(c.done)
	c.synced = d.sync(c.id, c.seq)
}

// Sync queues every record appended after seq that is still in the history and
// then marks the session synced. seq is the sequence number returned by the
// snapshot the session was sent. It returns false if the session is gone.
func (d *Dispatcher) Sync(ctx context.Context, id uuid.UUID, seq uint64) (bool, error) {
	cmd := &syncCommand{id: id, seq: seq, done: make(chan struct{})}
	if err := d.submit(ctx, cmd, cmd.done); err != nil {
		return false, err
	}
	return cmd.synced, nil
}

func (d *Dispatcher) sync(id uuid.UUID, seq uint64) bool {
	s, ok := d.registry.Get(id)
	if !ok {
		return false
	}
	missed := d.history.Since(seq)
	for _, rec := range missed {
		buf, err := wire.EncodeData(rec)
		if err != nil {
			d.logger.Error("failed to encode missed record", zap.Object("record", rec), zap.Error(err))
			continue
		}
		if !s.Enqueue(buf) {
			d.drop(s)
		}
	}
	if len(missed) > 0 {
		d.logger.Debug("sent records missed during catch up",
			zap.Object("session", s),
			zap.Int("records", len(missed)),
		)
	}
	return d.registry.MarkSynced(id)
}

type desyncCommand struct {
	id   uuid.UUID
	done chan struct{}
}

func (c *desyncCommand) run(d *Dispatcher) {
	defer close(c.done)
	d.registry.MarkUnsynced(c.id)
}

// Desync stops broadcasts to the session. Once it returns nothing else will be
// queued for the session until it is synced again.
func (d *Dispatcher) Desync(ctx context.Context, id uuid.UUID) error {
	cmd := &desyncCommand{id: id, done: make(chan struct{})}
	return d.submit(ctx, cmd, cmd.done)
}

// Records returns the current history and its sequence number.
func (d *Dispatcher) Records() ([]*types.UpdateRecord, uint64) {
	return d.history.Snapshot()
}

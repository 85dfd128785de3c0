package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlevine/pictosend/broadcast"
	"github.com/jacksonlevine/pictosend/client"
	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/history"
	"github.com/jacksonlevine/pictosend/registry"
	"github.com/jacksonlevine/pictosend/wire"
)

type tester struct {
	*Server
	store    *history.FileStore
	history  *history.Log
	registry *registry.Registry
	cancel   context.CancelFunc
	eg       errgroup.Group
}

func (tt *tester) stop(t *testing.T) {
	tt.cancel()
	require.NoError(t, tt.eg.Wait())
}

func newTester(t *testing.T, ln net.Listener, opts ...Opt) *tester {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
	}
	store := history.NewFileStore("/data/history", history.WithFilesystem(afero.NewMemMapFs()))
	log := history.New(store, history.WithLogger(logger))
	require.NoError(t, log.Load())
	reg := registry.New(registry.WithLogger(logger))
	dispatcher := broadcast.New(log, reg, broadcast.WithLogger(logger))
	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	srv := New(ln, dispatcher, reg, append([]Opt{WithLogger(logger), WithConfig(cfg)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	tt := &tester{Server: srv, store: store, history: log, registry: reg, cancel: cancel}
	tt.eg.Go(func() error { return dispatcher.Run(ctx) })
	tt.eg.Go(func() error { return srv.Run(ctx) })
	t.Cleanup(func() { tt.stop(t) })
	return tt
}

func (tt *tester) dial(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), tt.Addr().String(), client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (tt *tester) waitSynced(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(tt.registry.SyncedSessions(uuid.Nil)) == n
	}, time.Second, 5*time.Millisecond)
}

func (tt *tester) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return tt.registry.Len() == n
	}, time.Second, 5*time.Millisecond)
}

func timeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func update(producer string, ms uint64) *types.UpdateRecord {
	rec := &types.UpdateRecord{
		Producer:  types.NewProducerName(producer),
		Timestamp: types.TimestampFromMillis(ms),
	}
	rec.Pixels.Set(int(ms%types.CanvasSide), 10, 255)
	return rec
}

func TestSyncedClientReceivesUpdates(t *testing.T) {
	tt := newTester(t, nil)
	a := tt.dial(t)
	size, err := a.RequestHistoryLength(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, size, "empty history is a single zero count byte")

	records, err := a.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	require.Empty(t, records)
	tt.waitSynced(t, 1)

	// b starts a handshake and abandons it by sending an update
	b := tt.dial(t)
	_, err = b.RequestHistoryLength(timeout(t, time.Second))
	require.NoError(t, err)
	sent := update("b", 1000)
	require.NoError(t, b.Send(timeout(t, time.Second), sent))

	received, err := a.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, sent, received)

	require.Eventually(t, func() bool { return tt.history.Len() == 1 }, time.Second, 5*time.Millisecond)
	persisted, err := tt.store.Load()
	require.NoError(t, err)
	require.Equal(t, []*types.UpdateRecord{sent}, persisted)

	// no echo to the unsynced sender
	_, err = b.Receive(timeout(t, 200*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	tt.waitSynced(t, 1)
}

func TestSyncedSenderReceivesOwnUpdate(t *testing.T) {
	tt := newTester(t, nil)
	a := tt.dial(t)
	b := tt.dial(t)
	_, err := a.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	_, err = b.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.waitSynced(t, 2)

	sent := update("a", 1)
	require.NoError(t, a.Send(timeout(t, time.Second), sent))
	received, err := b.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, sent, received)

	echoed, err := a.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, sent, echoed)
}

func TestLengthRequestOnlyNeverSyncs(t *testing.T) {
	tt := newTester(t, nil)
	waiting := tt.dial(t)
	_, err := waiting.RequestHistoryLength(timeout(t, time.Second))
	require.NoError(t, err)

	producer := tt.dial(t)
	for i := range 3 {
		require.NoError(t, producer.Send(timeout(t, time.Second), update("p", uint64(i))))
	}
	require.Eventually(t, func() bool { return tt.history.Len() == 3 }, time.Second, 5*time.Millisecond)

	_, err = waiting.Receive(timeout(t, 300*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, tt.registry.SyncedSessions(uuid.Nil))
}

func TestCatchUpReturnsSortedHistory(t *testing.T) {
	tt := newTester(t, nil)
	producer := tt.dial(t)
	require.NoError(t, producer.Send(timeout(t, time.Second), update("p", 2000)))
	require.NoError(t, producer.Send(timeout(t, time.Second), update("p", 1000)))
	require.Eventually(t, func() bool { return tt.history.Len() == 2 }, time.Second, 5*time.Millisecond)

	c := tt.dial(t)
	size, err := c.RequestHistoryLength(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, 1+2*types.UpdateRecordSize, size)

	records, err := c.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, update("p", 1000), records[0])
	require.Equal(t, update("p", 2000), records[1])
}

func TestResync(t *testing.T) {
	tt := newTester(t, nil)
	c := tt.dial(t)
	_, err := c.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.waitSynced(t, 1)

	producer := tt.dial(t)
	sent := update("p", 5)
	require.NoError(t, producer.Send(timeout(t, time.Second), sent))
	received, err := c.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, sent, received)

	records, err := c.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, []*types.UpdateRecord{sent}, records)
	tt.waitSynced(t, 1)

	next := update("p", 6)
	require.NoError(t, producer.Send(timeout(t, time.Second), next))
	received, err = c.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, next, received)
}

func TestUnexpectedControlAbortsHandshake(t *testing.T) {
	tt := newTester(t, nil)
	conn, err := net.Dial("tcp", tt.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, wire.WriteControl(conn, &types.ControlRecord{Tag: types.RequestHistoryLength}))
	f, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, types.HistoryLength, f.Control.Tag)

	// confirming without requesting the history aborts the handshake
	require.NoError(t, wire.WriteControl(conn, &types.ControlRecord{Tag: types.ConfirmReceivedHistory}))
	require.NoError(t, wire.WriteControl(conn, &types.ControlRecord{Tag: types.RequestHistory}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = conn.Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout())
	require.Empty(t, tt.registry.SyncedSessions(uuid.Nil))
	require.Equal(t, 1, tt.registry.Len())
}

func TestIgnoresLegacyHistoryRequest(t *testing.T) {
	tt := newTester(t, nil)
	c := tt.dial(t)
	rec := update("legacy", 1)
	rec.RequestHistoryLength = true
	require.NoError(t, c.Send(timeout(t, time.Second), rec))
	require.NoError(t, c.Send(timeout(t, time.Second), update("p", 2)))
	require.Eventually(t, func() bool { return tt.history.Len() == 1 }, time.Second, 5*time.Millisecond)
	records, _ := tt.history.Snapshot()
	require.Equal(t, "p", records[0].Producer.String())
}

func TestMalformedFrameDisconnects(t *testing.T) {
	tt := newTester(t, nil)
	healthy := tt.dial(t)
	_, err := healthy.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)

	conn, err := net.Dial("tcp", tt.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	tt.waitSessions(t, 2)

	before := testutil.ToFloat64(disconnects.WithLabelValues(reasonMalformed))
	_, err = conn.Write([]byte{0x07})
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadAll(conn)
	require.NoError(t, err)
	tt.waitSessions(t, 1)
	require.Equal(t, before+1, testutil.ToFloat64(disconnects.WithLabelValues(reasonMalformed)))

	producer := tt.dial(t)
	sent := update("p", 1)
	require.NoError(t, producer.Send(timeout(t, time.Second), sent))
	received, err := healthy.Receive(timeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, sent, received)
}

func TestShutdownClosesConnections(t *testing.T) {
	tt := newTester(t, nil)
	c := tt.dial(t)
	_, err := c.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.stop(t)

	_, err = c.Receive(timeout(t, time.Second))
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, tt.registry.Len())
}

var errInjected = errors.New("injected failure")

type faultyConn struct {
	net.Conn
	fail *atomic.Bool
}

func (c *faultyConn) Read(b []byte) (int, error) {
	if c.fail.Load() {
		return 0, errInjected
	}
	return c.Conn.Read(b)
}

type faultyListener struct {
	net.Listener
	fail atomic.Bool
}

func (l *faultyListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &faultyConn{Conn: conn, fail: &l.fail}, nil
}

func TestStrikesDisconnect(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &faultyListener{Listener: inner}
	ln.fail.Store(true)
	clock := clockwork.NewFakeClock()
	tt := newTester(t, ln, WithClock(clock))

	before := testutil.ToFloat64(disconnects.WithLabelValues(reasonStrikes))
	c := tt.dial(t)
	tt.waitSessions(t, 1)
	sessions := tt.registry.Sessions()
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	// every failed read pauses on the fake clock
	require.Eventually(t, func() bool {
		clock.Advance(DefaultConfig().ErrorPause)
		return tt.registry.Len() == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(disconnects.WithLabelValues(reasonStrikes)))
	_, ok := tt.registry.Get(id)
	require.False(t, ok)

	_, err = c.Receive(timeout(t, time.Second))
	require.ErrorIs(t, err, io.EOF)
}

func TestStrikesBelowLimitKeepSession(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &faultyListener{Listener: inner}
	ln.fail.Store(true)
	clock := clockwork.NewFakeClock()
	tt := newTester(t, ln, WithClock(clock))

	c := tt.dial(t)
	tt.waitSessions(t, 1)
	id := tt.registry.Sessions()[0].ID
	require.Eventually(t, func() bool {
		return tt.registry.Strikes(id) == 1
	}, time.Second, 5*time.Millisecond)

	// the handler is paused after the first strike, recover before it resumes
	clock.BlockUntil(1)
	ln.fail.Store(false)
	clock.Advance(DefaultConfig().ErrorPause)

	_, err = c.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.waitSynced(t, 1)
	require.Equal(t, 1, tt.registry.Strikes(id))
}

// halfWriteConn writes half of every buffer and fails once armed.
type halfWriteConn struct {
	net.Conn
	fail *atomic.Bool
}

func (c *halfWriteConn) Write(b []byte) (int, error) {
	if c.fail.Load() {
		n, _ := c.Conn.Write(b[:len(b)/2])
		return n, errInjected
	}
	return c.Conn.Write(b)
}

// firstConnListener breaks writes only on the first accepted connection.
type firstConnListener struct {
	net.Listener
	accepted atomic.Int32
	fail     atomic.Bool
}

func (l *firstConnListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.accepted.Add(1) == 1 {
		return &halfWriteConn{Conn: conn, fail: &l.fail}, nil
	}
	return conn, nil
}

func TestWriteFailureClosesOnlySession(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &firstConnListener{Listener: inner}
	tt := newTester(t, ln)

	broken := tt.dial(t)
	_, err = broken.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.waitSynced(t, 1)

	healthy := tt.dial(t)
	_, err = healthy.CatchUp(timeout(t, time.Second))
	require.NoError(t, err)
	tt.waitSynced(t, 2)

	before := testutil.ToFloat64(disconnects.WithLabelValues(reasonWrite))
	ln.fail.Store(true)

	producer := tt.dial(t)
	var sent []*types.UpdateRecord
	for i := range 3 {
		rec := update("producer", uint64(100+i))
		sent = append(sent, rec)
		require.NoError(t, producer.Send(timeout(t, time.Second), rec))
	}
	for _, rec := range sent {
		received, err := healthy.Receive(timeout(t, time.Second))
		require.NoError(t, err)
		require.Equal(t, rec, received)
	}

	// producer and healthy remain
	tt.waitSessions(t, 2)
	tt.waitSynced(t, 1)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(disconnects.WithLabelValues(reasonWrite)) == before+1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 3, tt.history.Len())

	// the truncated frame is never completed
	_, err = broken.Receive(timeout(t, time.Second))
	require.Error(t, err)
}

package registry

import (
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pipe(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server
}

func TestRegistry(t *testing.T) {
	r := New(WithLogger(zaptest.NewLogger(t)))
	a := r.Register(pipe(t))
	b := r.Register(pipe(t))
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, 2, r.Len())
	require.Equal(t, []*Session{a, b}, r.Sessions())
	require.EqualValues(t, 2, testutil.ToFloat64(sessionsGauge))

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	require.Same(t, a, got)

	require.Empty(t, r.SyncedSessions(uuid.Nil))
	require.True(t, r.MarkSynced(a.ID))
	require.True(t, r.IsSynced(a.ID))
	require.False(t, r.IsSynced(b.ID))
	require.Equal(t, []*Session{a}, r.SyncedSessions(uuid.Nil))
	require.Empty(t, r.SyncedSessions(a.ID))
	require.EqualValues(t, 1, testutil.ToFloat64(syncedGauge))

	r.MarkUnsynced(a.ID)
	require.False(t, r.IsSynced(a.ID))
	require.Empty(t, r.SyncedSessions(uuid.Nil))

	removed, ok := r.Remove(a.ID)
	require.True(t, ok)
	require.Same(t, a, removed)
	_, ok = r.Remove(a.ID)
	require.False(t, ok)
	require.Equal(t, []*Session{b}, r.Sessions())

	// operations on removed sessions are no-ops
	require.False(t, r.MarkSynced(a.ID))
	r.MarkUnsynced(a.ID)
	_, ok = r.RecordError(a.ID)
	require.False(t, ok)
	_, ok = r.Get(a.ID)
	require.False(t, ok)
}

func TestRecordError(t *testing.T) {
	r := New()
	s := r.Register(pipe(t))
	for i := 1; i <= 5; i++ {
		strikes, ok := r.RecordError(s.ID)
		require.True(t, ok)
		require.Equal(t, i, strikes)
	}
	strikes, ok := r.RecordErrors(s.ID, 3)
	require.True(t, ok)
	require.Equal(t, 8, strikes)
	require.Equal(t, 8, r.Strikes(s.ID))
}

func TestConcurrentRemoveAndRecordError(t *testing.T) {
	r := New()
	sessions := make([]*Session, 50)
	for i := range sessions {
		sessions[i] = r.Register(pipe(t))
	}
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RecordError(s.ID)
			r.MarkSynced(s.ID)
		}()
		go func() {
			defer wg.Done()
			r.Remove(s.ID)
		}()
	}
	wg.Wait()
	require.Zero(t, r.Len())
	require.Empty(t, r.SyncedSessions(uuid.Nil))
}

func TestSessionQueue(t *testing.T) {
	r := New(WithQueueSize(2))
	s := r.Register(pipe(t))
	require.True(t, s.Enqueue([]byte{1}))
	require.True(t, s.Enqueue([]byte{2}))
	require.False(t, s.Enqueue([]byte{3}))
	require.Equal(t, []byte{1}, <-s.Outbound())

	s.AddWriteFailure()
	s.AddWriteFailure()
	require.Equal(t, 2, s.TakeWriteFailures())
	require.Zero(t, s.TakeWriteFailures())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	<-s.Done()
	require.False(t, s.Enqueue([]byte{4}))
}

func TestSessionBreak(t *testing.T) {
	r := New()
	s := r.Register(pipe(t))
	closed := r.Register(pipe(t))
	require.NoError(t, closed.Close())
	require.False(t, closed.Broken())

	require.False(t, s.Broken())
	s.Break()
	<-s.Done()
	require.True(t, s.Broken())
	require.False(t, s.Enqueue([]byte{1}))
}

func TestCloseAll(t *testing.T) {
	r := New()
	a := r.Register(pipe(t))
	b := r.Register(pipe(t))
	r.CloseAll()
	<-a.Done()
	<-b.Done()
	require.Equal(t, 2, r.Len())
}

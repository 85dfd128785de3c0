package registry

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

// Session is a live client connection.
//
// The connection is read only by its handler. Everything written to the client
// goes through the outbound queue, which is drained by a single writer.
type Session struct {
	ID   uuid.UUID
	Conn net.Conn

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// dropped counts writes that failed or were dropped since the last TakeWriteFailures.
	dropped atomic.Int32
	// broken is set when a write failed and the stream position is lost
	broken atomic.Bool

	// guarded by the registry lock
	synced  bool
	strikes int
}

func newSession(conn net.Conn, queueSize int) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Session{
		ID:   uuid.New(),
		Conn: conn,
		out:  make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// Enqueue schedules buf for delivery without blocking. It returns false if the
// session is closed or its queue is full.
// buf must not be modified after it was enqueued.
func (s *Session) Enqueue(buf []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- buf:
		return true
	default:
		return false
	}
}

// Outbound returns the queue drained by the session writer.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the connection. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.Conn != nil {
			err = s.Conn.Close()
		}
	})
	return err
}

// Break closes a session whose outbound stream can no longer be trusted,
// for example after a partial write.
func (s *Session) Break() {
	s.broken.Store(true)
	s.Close()
}

// Broken reports whether the session was closed by Break.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

// AddWriteFailure records a failed or dropped delivery.
func (s *Session) AddWriteFailure() {
	s.dropped.Add(1)
}

// TakeWriteFailures returns the number of failed deliveries since the previous call.
func (s *Session) TakeWriteFailures() int {
	return int(s.dropped.Swap(0))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *Session) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("id", s.ID.String())
	if s.Conn != nil {
		encoder.AddString("remote", s.Conn.RemoteAddr().String())
	}
	return nil
}

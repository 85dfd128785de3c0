// Package registry tracks live client sessions and their catch-up and error state.
package registry

import (
	"maps"
	"net"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the default capacity of a session outbound queue.
const DefaultQueueSize = 64

type Opt func(*Registry)

// WithLogger configures the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithQueueSize sets the outbound queue capacity of new sessions.
func WithQueueSize(size int) Opt {
	return func(r *Registry) {
		r.queueSize = size
	}
}

// Registry maps session ids to sessions. All methods are safe for concurrent use.
type Registry struct {
	logger    *zap.Logger
	queueSize int

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	// order keeps registration order so that snapshots iterate deterministically.
	order []uuid.UUID
}

func New(opts ...Opt) *Registry {
	r := &Registry{
		logger:    zap.NewNop(),
		queueSize: DefaultQueueSize,
		sessions:  map[uuid.UUID]*Session{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a new unsynced session for conn.
func (r *Registry) Register(conn net.Conn) *Session {
	s := newSession(conn, r.queueSize)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.updateGauges()
	r.logger.Debug("registered session", zap.Object("session", s))
	return s
}

// MarkSynced marks the session as eligible for broadcasts.
// It returns false if the session is no longer registered.
func (r *Registry) MarkSynced(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.synced = true
	r.updateGauges()
	return true
}

// MarkUnsynced stops broadcasts to the session until it is synced again.
func (r *Registry) MarkUnsynced(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.synced = false
		r.updateGauges()
	}
}

// IsSynced reports whether the session is registered and synced.
func (r *Registry) IsSynced(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.synced
}

// RecordError adds a strike to the session and returns the total.
// ok is false if the session is no longer registered.
func (r *Registry) RecordError(id uuid.UUID) (strikes int, ok bool) {
	return r.RecordErrors(id, 1)
}

// RecordErrors adds n strikes to the session and returns the total.
func (r *Registry) RecordErrors(id uuid.UUID, n int) (strikes int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, false
	}
	s.strikes += n
	return s.strikes, true
}

// Strikes returns the number of strikes recorded for the session.
func (r *Registry) Strikes(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.strikes
	}
	return 0
}

// Remove deletes the session and returns it. Remove is idempotent, later
// calls return false.
func (r *Registry) Remove(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	r.order = slices.DeleteFunc(r.order, func(other uuid.UUID) bool { return other == id })
	r.updateGauges()
	r.logger.Debug("removed session", zap.Object("session", s), zap.Int("strikes", s.strikes))
	return s, true
}

// SyncedSessions returns the synced sessions in registration order, skipping except.
// Pass uuid.Nil to include every synced session.
func (r *Registry) SyncedSessions(except uuid.UUID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rst []*Session
	for _, id := range r.order {
		if s := r.sessions[id]; s.synced && id != except {
			rst = append(rst, s)
		}
	}
	return rst
}

// Get returns the session with id.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns all registered sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	rst := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		rst = append(rst, r.sessions[id])
	}
	return rst
}

// CloseAll closes every registered session without removing it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := slices.Collect(maps.Values(r.sessions))
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

func (r *Registry) updateGauges() {
	synced := 0
	for _, s := range r.sessions {
		if s.synced {
			synced++
		}
	}
	sessionsGauge.Set(float64(len(r.sessions)))
	syncedGauge.Set(float64(synced))
}

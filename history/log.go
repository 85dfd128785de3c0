// Package history keeps the bounded, timestamp ordered log of recent updates
// and persists it after every change.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jacksonlevine/pictosend/common/types"
)

// DefaultCapacity is the default maximum number of records kept in the log.
const DefaultCapacity = 56

// ErrNotLoaded is returned by Append if Load was not called first.
var ErrNotLoaded = errors.New("history is not loaded")

type Opt func(*Log)

// WithLogger configures the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithCapacity sets the maximum number of records kept in the log.
func WithCapacity(capacity int) Opt {
	return func(l *Log) {
		l.capacity = capacity
	}
}

// WithRetryInterval sets how often Run retries a failed save.
func WithRetryInterval(interval time.Duration) Opt {
	return func(l *Log) {
		l.retryInterval = interval
	}
}

// WithClock overrides the clock used by Run.
func WithClock(clock clockwork.Clock) Opt {
	return func(l *Log) {
		l.clock = clock
	}
}

type entry struct {
	// seq is the position of the append in the lifetime of the log, starting at 1.
	seq    uint64
	record *types.UpdateRecord
}

// Log is a bounded sequence of update records, sorted by timestamp.
//
// Records are treated as immutable once appended. Snapshots share them with
// the log, callers must not modify returned records.
type Log struct {
	logger        *zap.Logger
	store         Store
	capacity      int
	retryInterval time.Duration
	clock         clockwork.Clock

	mu      sync.Mutex
	loaded  bool
	entries []entry
	seq     uint64
	// dirty is set when the in-memory log is ahead of the store.
	dirty bool
}

// New creates a log persisted to store. Load must be called before Append.
func New(store Store, opts ...Opt) *Log {
	l := &Log{
		logger:        zap.NewNop(),
		store:         store,
		capacity:      DefaultCapacity,
		retryInterval: 5 * time.Second,
		clock:         clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.capacity < 1 {
		l.capacity = 1
	}
	l.entries = make([]entry, 0, l.capacity+1)
	return l
}

// Load replaces the contents of the log with the persisted snapshot.
// A snapshot larger than the capacity is trimmed from the front.
func (l *Log) Load() error {
	records, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if extra := len(records) - l.capacity; extra > 0 {
		l.logger.Warn("persisted history exceeds capacity, dropping oldest records",
			zap.Int("persisted", len(records)),
			zap.Int("capacity", l.capacity),
		)
		records = records[extra:]
	}
	l.entries = l.entries[:0]
	for _, rec := range records {
		l.seq++
		l.entries = append(l.entries, entry{seq: l.seq, record: rec})
	}
	l.sortLocked()
	l.loaded = true
	l.dirty = false
	entriesGauge.Set(float64(len(l.entries)))
	l.logger.Info("loaded history", zap.Int("records", len(l.entries)))
	return nil
}

// Append inserts rec, evicting the entry at the front of the log if it is full,
// restores timestamp order and persists the result before returning.
//
// The record is kept even if persisting fails. In that case the error is returned
// and Run keeps retrying until the store accepts the snapshot.
func (l *Log) Append(rec *types.UpdateRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return 0, ErrNotLoaded
	}
	if len(l.entries) >= l.capacity {
		evicted := l.entries[0]
		l.entries = slices.Delete(l.entries, 0, 1)
		evictionsCounter.Inc()
		l.logger.Debug("evicted record",
			zap.Uint64("seq", evicted.seq),
			zap.Stringer("timestamp", evicted.record.Timestamp),
		)
	}
	l.seq++
	l.entries = append(l.entries, entry{seq: l.seq, record: rec})
	l.sortLocked()
	appendsCounter.Inc()
	entriesGauge.Set(float64(len(l.entries)))
	return l.seq, l.persistLocked()
}

func (l *Log) sortLocked() {
	slices.SortStableFunc(l.entries, func(a, b entry) int {
		return a.record.Timestamp.Compare(b.record.Timestamp)
	})
}

func (l *Log) recordsLocked() []*types.UpdateRecord {
	records := make([]*types.UpdateRecord, len(l.entries))
	for i, e := range l.entries {
		records[i] = e.record
	}
	return records
}

func (l *Log) persistLocked() error {
	if err := l.store.Save(l.recordsLocked()); err != nil {
		l.dirty = true
		persistFailures.Inc()
		l.logger.Error("failed to persist history, keeping it in memory",
			zap.Int("records", len(l.entries)),
			zap.Error(err),
		)
		return fmt.Errorf("persist history: %w", err)
	}
	l.dirty = false
	return nil
}

// Snapshot returns the records in log order and the sequence number of the most
// recent append. Records appended later are returned by Since.
func (l *Log) Snapshot() ([]*types.UpdateRecord, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordsLocked(), l.seq
}

// Since returns, in log order, the records still present in the log that were
// appended after the append with sequence number seq.
func (l *Log) Since(seq uint64) []*types.UpdateRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var records []*types.UpdateRecord
	for _, e := range l.entries {
		if e.seq > seq {
			records = append(records, e.record)
		}
	}
	return records
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dirty reports whether the last save failed and has not been retried successfully.
func (l *Log) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Run retries failed saves until ctx is canceled. On exit it makes a final
// attempt if the log is still dirty.
func (l *Log) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.retry()
			return nil
		case <-ticker.Chan():
			l.retry()
		}
	}
}

func (l *Log) retry() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return
	}
	if err := l.persistLocked(); err == nil {
		l.logger.Info("persisted history after earlier failure", zap.Int("records", len(l.entries)))
	}
}

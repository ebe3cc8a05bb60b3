package quota

import (
	"context"
	"sync"
	"time"
)

// Record is the per-(user, endpoint) sliding-window state. Requests is
// pruned to the active window on every access and never persisted with
// stale entries.
type Record struct {
	UserID       string
	Endpoint     string
	Requests     []time.Time
	BlockedUntil time.Time // zero when not blocked
	UpdatedAt    time.Time
}

// Store persists rate-limit records. Get returns (nil, nil) when no
// record exists. Implementations must be safe for concurrent use;
// per-key write serialization is the Guard's responsibility.
type Store interface {
	Get(ctx context.Context, userID, endpoint string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, userID, endpoint string) error
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is the in-memory fallback store, used when no database is
// configured and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func memKey(userID, endpoint string) string {
	return userID + "|" + endpoint
}

// Get returns a copy of the stored record, or (nil, nil).
func (s *MemoryStore) Get(_ context.Context, userID, endpoint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[memKey(userID, endpoint)]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// Put stores a copy of the record.
func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memKey(rec.UserID, rec.Endpoint)] = copyRecord(rec)
	return nil
}

// Delete removes a record if present.
func (s *MemoryStore) Delete(_ context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, memKey(userID, endpoint))
	return nil
}

// ListByUser returns copies of every record owned by the user.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// DeleteStale evicts records whose newest timestamp is older than the
// cutoff.
func (s *MemoryStore) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key, rec := range s.records {
		if newestActivity(rec).Before(cutoff) {
			delete(s.records, key)
			count++
		}
	}
	return count, nil
}

func newestActivity(rec *Record) time.Time {
	newest := rec.UpdatedAt
	if n := len(rec.Requests); n > 0 && rec.Requests[n-1].After(newest) {
		newest = rec.Requests[n-1]
	}
	return newest
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Requests = make([]time.Time, len(rec.Requests))
	copy(cp.Requests, rec.Requests)
	return &cp
}

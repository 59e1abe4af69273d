// Package store defines the optimistic-concurrency primitive that gates
// owner notifications, and an in-process implementation of it.
package store

import (
	"context"
	"sync"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type Outcome int

const (
	// Updated means the mutation was written.
	Updated Outcome = iota
	// Conflict means the record changed between read and write.
	Conflict
	// NotFound means no record exists for the key.
	NotFound
	// Rejected means the predicate returned false; nothing was written.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Predicate decides, from the record as read, whether to write.
type Predicate func(rec *model.NotificationRateLimitRecord) bool

// Mutator edits a private copy of the record.
type Mutator func(rec *model.NotificationRateLimitRecord)

// RecordStore is a durable store offering a single-record compare-and-swap.
// ConditionalUpdate reads the record once, evaluates pred, applies mutate and
// writes only if the record is unchanged since the read. It never retries:
// a lost race is reported as Conflict.
type RecordStore interface {
	Get(ctx context.Context, userID string) (*model.NotificationRateLimitRecord, error)
	ConditionalUpdate(ctx context.Context, userID string, pred Predicate, mutate Mutator) (Outcome, *model.NotificationRateLimitRecord, error)
}

// Apply runs pred and mutate against current and returns the record to
// write, bumping its version. Shared by every RecordStore implementation.
func Apply(current *model.NotificationRateLimitRecord, pred Predicate, mutate Mutator) (Outcome, *model.NotificationRateLimitRecord) {
	if current == nil {
		return NotFound, nil
	}
	if pred != nil && !pred(current.Clone()) {
		return Rejected, nil
	}
	next := current.Clone()
	mutate(next)
	next.UserID = current.UserID
	next.Version = current.Version + 1
	return Updated, next
}

// MemoryStore keeps records in process memory. The read and the write are
// separate critical sections so concurrent callers race exactly as they do
// against a remote store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.NotificationRateLimitRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.NotificationRateLimitRecord)}
}

func (s *MemoryStore) Put(rec *model.NotificationRateLimitRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec.Clone()
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*model.NotificationRateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID].Clone(), nil
}

func (s *MemoryStore) ConditionalUpdate(ctx context.Context, userID string, pred Predicate, mutate Mutator) (Outcome, *model.NotificationRateLimitRecord, error) {
	if err := ctx.Err(); err != nil {
		return Conflict, nil, err
	}

	current, _ := s.Get(ctx, userID)
	outcome, next := Apply(current, pred, mutate)
	if outcome != Updated {
		return outcome, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[userID]
	if !ok || stored.Version != current.Version {
		return Conflict, nil, nil
	}
	s.records[userID] = next
	return Updated, next.Clone(), nil
}

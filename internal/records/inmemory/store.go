package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of records.Store.
// It is safe for concurrent use and keeps copies so callers cannot mutate stored state.
// Data is lost on restart; use the BigQuery store for persistence.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*domain.StatementRecord
	byKey map[domain.RecordKey]string
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*domain.StatementRecord),
		byKey: make(map[domain.RecordKey]string),
		now:   time.Now,
	}
}

// Get implements records.Store.
func (s *Store) Get(ctx context.Context, id string) (*domain.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("Get %s: %w", id, records.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByKey implements records.Store.
func (s *Store) FindByKey(ctx context.Context, key domain.RecordKey) (*domain.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

// List implements records.Store. Results are ordered by year, month, bank and kind.
func (s *Store) List(ctx context.Context, filter records.Filter) ([]*domain.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StatementRecord
	for _, rec := range s.byID {
		if filter.Matches(rec) {
			result = append(result, rec.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Key, result[j].Key
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		return a.Kind < b.Kind
	})

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Insert implements records.Store. An empty id is filled in.
func (s *Store) Insert(ctx context.Context, rec *domain.StatementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byKey[rec.Key]; taken {
		return fmt.Errorf("Insert %s: %w", rec.Key, records.ErrConflict)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, taken := s.byID[rec.ID]; taken {
		return fmt.Errorf("Insert %s: duplicate id %s: %w", rec.Key, rec.ID, records.ErrConflict)
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.byID[rec.ID] = rec.Clone()
	s.byKey[rec.Key] = rec.ID
	return nil
}

// Update implements records.Store. The natural key may change as long as it stays unique.
func (s *Store) Update(ctx context.Context, rec *domain.StatementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[rec.ID]
	if !ok {
		return fmt.Errorf("Update %s: %w", rec.ID, records.ErrNotFound)
	}
	if old.Key != rec.Key {
		if other, taken := s.byKey[rec.Key]; taken && other != rec.ID {
			return fmt.Errorf("Update %s: key %s: %w", rec.ID, rec.Key, records.ErrConflict)
		}
		delete(s.byKey, old.Key)
	}

	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = s.now()

	s.byID[rec.ID] = rec.Clone()
	s.byKey[rec.Key] = rec.ID
	return nil
}

// Delete implements records.Store.
func (s *Store) Delete(ctx context.Context, filter records.Filter) (int, error) {
	if !filter.Scoped() {
		return 0, records.ErrUnscopedDelete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.byID {
		if !filter.Matches(rec) {
			continue
		}
		delete(s.byID, id)
		if s.byKey[rec.Key] == id {
			delete(s.byKey, rec.Key)
		}
		deleted++
	}
	return deleted, nil
}

// Upsert implements records.Store. When the key exists the stored record keeps its id
// and creation time and everything else is replaced.
func (s *Store) Upsert(ctx context.Context, rec *domain.StatementRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byKey[rec.Key]; ok {
		old := s.byID[id]
		rec.ID = old.ID
		rec.CreatedAt = old.CreatedAt
		rec.UpdatedAt = now
		s.byID[id] = rec.Clone()
		return false, nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.byID[rec.ID] = rec.Clone()
	s.byKey[rec.Key] = rec.ID
	return true, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Ensure Store implements records.Store.
var _ records.Store = (*Store)(nil)

// Package memory is an in-memory core.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/shelter/internal/core"
)

// Store keeps animal records in a map. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byID   map[int64]core.AnimalRecord
	nextID int64
	now    func() time.Time

	imports *core.ImportLimiter
}

var (
	_ core.Store        = (*Store)(nil)
	_ core.ImportLocker = (*Store)(nil)
)

// New creates an empty store. Ids start at 1.
func New() *Store {
	return &Store{
		byID:   make(map[int64]core.AnimalRecord),
		nextID: 1,
		now:    time.Now,

		imports: core.NewImportLimiter(0),
	}
}

// Seed inserts records with their ids as given, replacing any existing
// record with the same id. Later creates get ids above the highest seeded one.
func (s *Store) Seed(records ...core.AnimalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now()
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		s.byID[rec.ID] = cloneRecord(rec)
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
}

func (s *Store) FindByID(ctx context.Context, id int64) (*core.AnimalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

// FindAll returns records ordered by id.
func (s *Store) FindAll(ctx context.Context, filter core.FindAllFilter) ([]core.AnimalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.AnimalRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		if rec.Deleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Create(ctx context.Context, fields core.AnimalFields) (*core.AnimalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := core.AnimalRecord{
		ID:           s.nextID,
		AnimalFields: cloneFields(fields),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.byID[rec.ID] = rec

	out := cloneRecord(rec)
	return &out, nil
}

func (s *Store) Update(ctx context.Context, id int64, fields core.AnimalFields) (*core.AnimalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || rec.Deleted() {
		return nil, nil
	}

	rec.AnimalFields = cloneFields(fields)
	rec.UpdatedAt = s.now()
	s.byID[id] = rec

	out := cloneRecord(rec)
	return &out, nil
}

// SoftDelete stamps DeletedAt. Deleting an already deleted record keeps the
// original timestamp.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("soft delete animal %d: %w", id, core.ErrRecordNotFound)
	}
	if rec.Deleted() {
		return nil
	}

	now := s.now()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	s.byID[id] = rec
	return nil
}

// LockImports serializes applies from every Service that shares this store.
func (s *Store) LockImports(ctx context.Context, importID string, maxWait time.Duration) (func(), error) {
	if err := s.imports.AcquireWithin(ctx, importID, maxWait); err != nil {
		return nil, err
	}
	return s.imports.Release, nil
}

// Len returns the number of records, deleted ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// cloneRecord copies rec so callers never share pointers with the map.
func cloneRecord(rec core.AnimalRecord) core.AnimalRecord {
	rec.AnimalFields = cloneFields(rec.AnimalFields)
	if rec.DeletedAt != nil {
		t := *rec.DeletedAt
		rec.DeletedAt = &t
	}
	return rec
}

func cloneFields(f core.AnimalFields) core.AnimalFields {
	f.AgeYears = clonePtr(f.AgeYears)
	f.Sex = clonePtr(f.Sex)
	f.Breed = clonePtr(f.Breed)
	f.Temperament = clonePtr(f.Temperament)
	f.MedicalNotes = clonePtr(f.MedicalNotes)
	f.MainImageURL = clonePtr(f.MainImageURL)
	f.AdoptURL = clonePtr(f.AdoptURL)
	f.BondedPairID = clonePtr(f.BondedPairID)
	return f
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

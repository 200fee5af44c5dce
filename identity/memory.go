package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*Record
}

// NewMemoryStore seeds a MemoryStore with copies of records.
func NewMemoryStore(records ...Record) *MemoryStore {
	s := &MemoryStore{records: make(map[int64]*Record, len(records))}
	for i := range records {
		r := records[i]
		s.records[r.ID] = &r
	}
	return s
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, tenantID, value string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEmail := IsEmail(value)
	needle := Normalize(value)
	for _, r := range s.records {
		if r.TenantID != tenantID {
			continue
		}
		field := r.Username
		if byEmail {
			field = r.Email
		}
		if Normalize(field) == needle {
			out := *r
			out.Roles = append([]string(nil), r.Roles...)
			out.Permissions = append([]string(nil), r.Permissions...)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdatePassword(_ context.Context, userID int64, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	r.PasswordHash = newHash
	return nil
}

func (s *MemoryStore) SetForcedChangeFlag(_ context.Context, userID int64, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	r.ForcePasswordChange = force
	return nil
}

// Get returns a copy of the record with id, for assertions.
func (s *MemoryStore) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

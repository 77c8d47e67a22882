package persistence

import (
	"context"
	"sync"

	"github.com/your-org/medflow/internal/media"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and
// single-node deployments; the hash index enforces the same uniqueness the
// relational store's constraint does.
type MemoryStore struct {
	mu       sync.Mutex
	byHash   map[string]*media.Record
	byID     map[string]*media.Record
	segments map[string][]Segment
}

type Segment struct {
	Label      string
	StartFrame int
	EndFrame   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:   make(map[string]*media.Record),
		byID:     make(map[string]*media.Record),
		segments: make(map[string][]Segment),
	}
}

func (s *MemoryStore) CreateOrGetByHash(ctx context.Context, record *media.Record) (*media.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[record.ContentHash]; ok {
		clone := *existing
		return &clone, false, nil
	}

	stored := *record
	s.byHash[record.ContentHash] = &stored
	s.byID[record.ID] = &stored
	clone := stored
	return &clone, true, nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byHash[hash]
	if !ok {
		return nil, media.ErrResourceNotFound
	}
	clone := *stored
	return &clone, nil
}

func (s *MemoryStore) Save(ctx context.Context, record *media.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[record.ID]
	if !ok {
		return media.ErrResourceNotFound
	}
	*stored = *record
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, mediaType media.Type, id string) (*media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok || stored.MediaType != mediaType {
		return nil, media.ErrResourceNotFound
	}
	clone := *stored
	return &clone, nil
}

func (s *MemoryStore) AppendSegment(ctx context.Context, recordID, label string, startFrame, endFrame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[recordID]; !ok {
		return media.ErrResourceNotFound
	}
	s.segments[recordID] = append(s.segments[recordID], Segment{Label: label, StartFrame: startFrame, EndFrame: endFrame})
	return nil
}

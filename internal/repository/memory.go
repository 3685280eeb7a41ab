package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
)

// MemoryEventStore keeps streams in process memory. It honours the same
// expected-version contract as EventRepository.
type MemoryEventStore struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]domain.Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{streams: make(map[uuid.UUID][]domain.Event)}
}

func (s *MemoryEventStore) Append(_ context.Context, subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error {
	if err := checkBatch(subjectID, expectedVersion, events); err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[subjectID]
	if current := int64(len(stream)); current != expectedVersion {
		return fmt.Errorf("Append: stream %s at version %d, expected %d: %w", subjectID, current, expectedVersion, domain.ErrVersionConflict)
	}

	next := make([]domain.Event, len(stream), len(stream)+len(events))
	copy(next, stream)
	s.streams[subjectID] = append(next, events...)
	return nil
}

func (s *MemoryEventStore) ReadAll(_ context.Context, subjectID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[subjectID]
	if !ok {
		return nil, fmt.Errorf("ReadAll: %s: %w", subjectID, domain.ErrNotFound)
	}
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *MemoryEventStore) Ping(context.Context) error {
	return nil
}

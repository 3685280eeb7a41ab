package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
)

type eventStore interface {
	Append(ctx context.Context, subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error
	ReadAll(ctx context.Context, subjectID uuid.UUID) ([]domain.Event, error)
}

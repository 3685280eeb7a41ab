package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// checkBatch verifies that events extend the stream contiguously from
// expectedVersion and all belong to subjectID.
func checkBatch(subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error {
	if expectedVersion < 0 {
		return fmt.Errorf("checkBatch: negative expected version %d: %w", expectedVersion, domain.ErrInvalidArgument)
	}
	for i, e := range events {
		if e.SubjectID() != subjectID {
			return fmt.Errorf("checkBatch: event %d belongs to %s: %w", i, e.SubjectID(), domain.ErrInvalidEventSequence)
		}
		if want := expectedVersion + int64(i) + 1; e.OriginatorVersion() != want {
			return fmt.Errorf("checkBatch: event %d has version %d, want %d: %w", i, e.OriginatorVersion(), want, domain.ErrInvalidEventSequence)
		}
	}
	return nil
}

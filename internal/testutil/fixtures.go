package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
)

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Money parses s or fails the test.
func Money(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.ParseMoney(s)
	if err != nil {
		t.Fatalf("parse money %q: %v", s, err)
	}
	return m
}

// Transactions builds a contiguous TransactionAppended stream for id.
func Transactions(id uuid.UUID, amounts ...domain.Money) []domain.Event {
	now := time.Now().UTC()
	events := make([]domain.Event, len(amounts))
	for i, amt := range amounts {
		events[i] = domain.TransactionAppended{
			EventMeta: domain.EventMeta{Subject: id, Version: int64(i) + 1, At: now},
			Amount:    amt,
		}
	}
	return events
}

func GetStreamVersion(t *testing.T, db *sql.DB, id uuid.UUID) int64 {
	t.Helper()

	var version int64
	err := db.QueryRow(`SELECT version FROM account_streams WHERE id = $1`, id).Scan(&version)
	if err != nil {
		t.Fatalf("get stream version %s: %v", id, err)
	}
	return version
}

func CountEvents(t *testing.T, db *sql.DB, id uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM account_events WHERE subject_id = $1`, id).Scan(&count)
	if err != nil {
		t.Fatalf("count events for %s: %v", id, err)
	}
	return count
}

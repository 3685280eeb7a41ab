package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/repository"
	"github.com/josh-kwaku/eventsourced-accounts/internal/testutil"
)

// hookedStore wraps the memory store so tests can act as a rival writer or
// fail appends for a chosen stream.
type hookedStore struct {
	*repository.MemoryEventStore

	beforeAppend func(id uuid.UUID, expected int64)
	failAppend   func(id uuid.UUID) error

	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func newHookedStore() *hookedStore {
	return &hookedStore{
		MemoryEventStore: repository.NewMemoryEventStore(),
		calls:            make(map[uuid.UUID]int),
	}
}

func (h *hookedStore) Append(ctx context.Context, id uuid.UUID, expected int64, events []domain.Event) error {
	if len(events) > 0 {
		h.mu.Lock()
		h.calls[id]++
		h.mu.Unlock()

		if h.failAppend != nil {
			if err := h.failAppend(id); err != nil {
				return err
			}
		}
		if h.beforeAppend != nil {
			h.beforeAppend(id, expected)
		}
	}
	return h.MemoryEventStore.Append(ctx, id, expected, events)
}

func (h *hookedStore) appendCalls(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

// injectTransaction commits a transaction directly, bypassing the hooks.
func (h *hookedStore) injectTransaction(t *testing.T, id uuid.UUID, expected int64, amount string) {
	t.Helper()
	h.inject(t, id, expected, domain.TransactionAppended{
		EventMeta: domain.EventMeta{Subject: id, Version: expected + 1, At: time.Now().UTC()},
		Amount:    testutil.Money(t, amount),
	})
}

func (h *hookedStore) injectClose(t *testing.T, id uuid.UUID) {
	t.Helper()
	events, err := h.MemoryEventStore.ReadAll(context.Background(), id)
	require.NoError(t, err)
	current := int64(len(events))
	h.inject(t, id, current, domain.Closed{
		EventMeta: domain.EventMeta{Subject: id, Version: current + 1, At: time.Now().UTC()},
	})
}

func (h *hookedStore) inject(t *testing.T, id uuid.UUID, expected int64, e domain.Event) {
	t.Helper()
	require.NoError(t, h.MemoryEventStore.Append(context.Background(), id, expected, []domain.Event{e}))
}

package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/testutil"
)

type eventStore interface {
	Append(ctx context.Context, subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error
	ReadAll(ctx context.Context, subjectID uuid.UUID) ([]domain.Event, error)
}

func TestMemoryEventStore(t *testing.T) {
	runEventStoreContract(t, func(t *testing.T) eventStore { return NewMemoryEventStore() })
}

func TestEventRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewEventRepository(db)
	runEventStoreContract(t, func(t *testing.T) eventStore { return store })

	t.Run("stream row tracks version", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.New()
		require.NoError(t, store.Append(ctx, id, 0, nil))
		require.NoError(t, store.Append(ctx, id, 0, testutil.Transactions(id,
			testutil.Money(t, "1.00"), testutil.Money(t, "2.00"))))

		assert.Equal(t, int64(2), testutil.GetStreamVersion(t, db, id))
		assert.Equal(t, 2, testutil.CountEvents(t, db, id))
		require.NoError(t, store.Ping(ctx))
	})
}

func runEventStoreContract(t *testing.T, newStore func(t *testing.T) eventStore) {
	t.Run("unknown stream is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ReadAll(context.Background(), uuid.New())
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty append registers stream", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, store.Append(ctx, id, 0, nil))

		events, err := store.ReadAll(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("events read back in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()

		a, err := domain.Replay(id, nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, id, 0, nil))
		require.NoError(t, a.AppendTransaction(testutil.Money(t, "200.00")))
		require.NoError(t, a.SetOverdraftLimit(testutil.Money(t, "50.00")))
		require.NoError(t, store.Append(ctx, id, a.LoadedVersion(), a.PendingEvents()))
		a.MarkCommitted()

		require.NoError(t, a.Close())
		require.NoError(t, store.Append(ctx, id, a.LoadedVersion(), a.PendingEvents()))

		events, err := store.ReadAll(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, domain.EventTypeTransactionAppended, events[0].Type())
		assert.Equal(t, domain.EventTypeOverdraftLimitSet, events[1].Type())
		assert.Equal(t, domain.EventTypeClosed, events[2].Type())
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.OriginatorVersion())
			assert.Equal(t, id, e.SubjectID())
		}

		replayed, err := domain.Replay(id, events)
		require.NoError(t, err)
		assert.Equal(t, a.State(), replayed.State())
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()
		require.NoError(t, store.Append(ctx, id, 0, testutil.Transactions(id, testutil.Money(t, "100.00"))))

		events, err := store.ReadAll(ctx, id)
		require.NoError(t, err)
		first, err := domain.Replay(id, events)
		require.NoError(t, err)
		second, err := domain.Replay(id, events)
		require.NoError(t, err)

		require.NoError(t, first.AppendTransaction(testutil.Money(t, "-10.00")))
		require.NoError(t, second.AppendTransaction(testutil.Money(t, "-20.00")))

		require.NoError(t, store.Append(ctx, id, first.LoadedVersion(), first.PendingEvents()))
		err = store.Append(ctx, id, second.LoadedVersion(), second.PendingEvents())
		require.ErrorIs(t, err, domain.ErrVersionConflict)

		events, err = store.ReadAll(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 2)
		latest, err := domain.Replay(id, events)
		require.NoError(t, err)
		assert.Equal(t, "90.00", latest.Balance().String())
	})

	t.Run("expected version ahead of stream conflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()
		require.NoError(t, store.Append(ctx, id, 0, nil))

		events := []domain.Event{domain.Closed{EventMeta: domain.EventMeta{Subject: id, Version: 4}}}
		require.ErrorIs(t, store.Append(ctx, id, 3, events), domain.ErrVersionConflict)
	})

	t.Run("non contiguous batch rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()

		events := []domain.Event{domain.Closed{EventMeta: domain.EventMeta{Subject: id, Version: 2}}}
		require.ErrorIs(t, store.Append(ctx, id, 0, events), domain.ErrInvalidEventSequence)

		foreign := []domain.Event{domain.Closed{EventMeta: domain.EventMeta{Subject: uuid.New(), Version: 1}}}
		require.ErrorIs(t, store.Append(ctx, id, 0, foreign), domain.ErrInvalidEventSequence)

		_, err := store.ReadAll(ctx, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent writers at same version", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := uuid.New()
		require.NoError(t, store.Append(ctx, id, 0, nil))

		const writers = 8
		one := testutil.Money(t, "1.00")
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.Append(ctx, id, 0, testutil.Transactions(id, one))
			}()
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, domain.ErrVersionConflict):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)

		events, err := store.ReadAll(ctx, id)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

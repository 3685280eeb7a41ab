package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/repository"
	"github.com/josh-kwaku/eventsourced-accounts/internal/service"
	"github.com/josh-kwaku/eventsourced-accounts/internal/testutil"
)

func testRetryPolicy() service.RetryPolicy {
	return service.RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func newMemoryService(t *testing.T) (*service.AccountService, *repository.MemoryEventStore) {
	t.Helper()
	store := repository.NewMemoryEventStore()
	return service.NewAccountService(store, testRetryPolicy()), store
}

func createAccount(t *testing.T, svc *service.AccountService) uuid.UUID {
	t.Helper()
	account, err := svc.CreateAccount(context.Background())
	require.NoError(t, err)
	return account.ID()
}

func balanceOf(t *testing.T, svc *service.AccountService, id uuid.UUID) string {
	t.Helper()
	balance, err := svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return balance.String()
}

func TestCreateAccount(t *testing.T) {
	svc, store := newMemoryService(t)
	ctx := context.Background()

	account, err := svc.CreateAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Version())
	assert.True(t, account.Balance().IsZero())

	events, err := store.ReadAll(ctx, account.ID())
	require.NoError(t, err)
	assert.Empty(t, events)

	loaded, err := svc.GetAccount(ctx, account.ID())
	require.NoError(t, err)
	assert.Equal(t, account.State(), loaded.State())
}

func TestGetAccount_Unknown(t *testing.T) {
	svc, _ := newMemoryService(t)

	_, err := svc.GetAccount(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.DepositFunds(context.Background(), uuid.New(), testutil.Money(t, "1.00"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDepositAndWithdraw(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	a := createAccount(t, svc)

	assert.Equal(t, "0.00", balanceOf(t, svc, a))

	account, err := svc.DepositFunds(ctx, a, testutil.Money(t, "200.00"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", account.Balance().String())
	assert.Equal(t, int64(1), account.Version())

	account, err = svc.WithdrawFunds(ctx, a, testutil.Money(t, "50.00"))
	require.NoError(t, err)
	assert.Equal(t, "150.00", account.Balance().String())
	assert.Equal(t, int64(2), account.Version())

	_, err = svc.WithdrawFunds(ctx, a, testutil.Money(t, "151.00"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	loaded, err := svc.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "150.00", loaded.Balance().String())
	assert.Equal(t, int64(2), loaded.Version())
}

func TestDepositAndWithdraw_RejectNonPositiveAmounts(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	a := createAccount(t, svc)

	for _, amount := range []string{"0", "-5.00"} {
		_, err := svc.DepositFunds(ctx, a, testutil.Money(t, amount))
		require.ErrorIs(t, err, domain.ErrInvalidArgument, amount)

		_, err = svc.WithdrawFunds(ctx, a, testutil.Money(t, amount))
		require.ErrorIs(t, err, domain.ErrInvalidArgument, amount)
	}

	account, err := svc.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Version())
}

func TestCloseAccount(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	a := createAccount(t, svc)

	_, err := svc.DepositFunds(ctx, a, testutil.Money(t, "50.00"))
	require.NoError(t, err)

	account, err := svc.CloseAccount(ctx, a)
	require.NoError(t, err)
	assert.True(t, account.IsClosed())

	_, err = svc.DepositFunds(ctx, a, testutil.Money(t, "1.00"))
	require.ErrorIs(t, err, domain.ErrAccountClosed)
	_, err = svc.WithdrawFunds(ctx, a, testutil.Money(t, "1.00"))
	require.ErrorIs(t, err, domain.ErrAccountClosed)
	_, err = svc.SetOverdraftLimit(ctx, a, testutil.Money(t, "10.00"))
	require.ErrorIs(t, err, domain.ErrAccountClosed)
	_, err = svc.CloseAccount(ctx, a)
	require.ErrorIs(t, err, domain.ErrAccountClosed)

	assert.Equal(t, "50.00", balanceOf(t, svc, a))
}

func TestSetOverdraftLimit(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	b := createAccount(t, svc)

	_, err := svc.DepositFunds(ctx, b, testutil.Money(t, "100.00"))
	require.NoError(t, err)

	limit, err := svc.GetOverdraftLimit(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "0.00", limit.String())

	_, err = svc.SetOverdraftLimit(ctx, b, testutil.Money(t, "500.00"))
	require.NoError(t, err)

	_, err = svc.SetOverdraftLimit(ctx, b, testutil.Money(t, "-1.00"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	limit, err = svc.GetOverdraftLimit(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "500.00", limit.String())

	account, err := svc.WithdrawFunds(ctx, b, testutil.Money(t, "500.00"))
	require.NoError(t, err)
	assert.Equal(t, "-400.00", account.Balance().String())

	_, err = svc.WithdrawFunds(ctx, b, testutil.Money(t, "101.00"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "-400.00", balanceOf(t, svc, b))
}

func TestCommand_RetriesAfterConflict(t *testing.T) {
	store := newHookedStore()
	svc := service.NewAccountService(store, testRetryPolicy())
	ctx := context.Background()
	a := createAccount(t, svc)

	// A rival writer lands a deposit just before our first append.
	var once sync.Once
	store.beforeAppend = func(id uuid.UUID, expected int64) {
		once.Do(func() { store.injectTransaction(t, id, expected, "25.00") })
	}

	account, err := svc.DepositFunds(ctx, a, testutil.Money(t, "10.00"))
	require.NoError(t, err)
	assert.Equal(t, "35.00", account.Balance().String())
	assert.Equal(t, int64(2), account.Version())
	assert.Equal(t, 2, store.appendCalls(a))
}

func TestCommand_ReloadedStateDecidesAfterConflict(t *testing.T) {
	store := newHookedStore()
	svc := service.NewAccountService(store, testRetryPolicy())
	ctx := context.Background()
	a := createAccount(t, svc)

	_, err := svc.DepositFunds(ctx, a, testutil.Money(t, "100.00"))
	require.NoError(t, err)

	// The rival drains the account, so the retried withdrawal must fail on
	// the fresh replay instead of committing against the stale balance.
	var once sync.Once
	store.beforeAppend = func(id uuid.UUID, expected int64) {
		once.Do(func() { store.injectTransaction(t, id, expected, "-80.00") })
	}

	_, err = svc.WithdrawFunds(ctx, a, testutil.Money(t, "50.00"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "20.00", balanceOf(t, svc, a))
}

func TestCommand_RetriesExhausted(t *testing.T) {
	store := newHookedStore()
	svc := service.NewAccountService(store, service.RetryPolicy{MaxRetries: 2})
	ctx := context.Background()
	a := createAccount(t, svc)

	store.beforeAppend = func(id uuid.UUID, expected int64) {
		store.injectTransaction(t, id, expected, "1.00")
	}

	_, err := svc.DepositFunds(ctx, a, testutil.Money(t, "10.00"))
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, 3, store.appendCalls(a))
	assert.Equal(t, "3.00", balanceOf(t, svc, a))
}

func TestConcurrentDeposits(t *testing.T) {
	store := repository.NewMemoryEventStore()
	svc := service.NewAccountService(store, service.RetryPolicy{
		MaxRetries:      100,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
	ctx := context.Background()
	a := createAccount(t, svc)
	one := testutil.Money(t, "1.00")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DepositFunds(ctx, a, one)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	account, err := svc.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "20.00", account.Balance().String())
	assert.Equal(t, int64(writers), account.Version())
}

func TestSetClock_StampsEvents(t *testing.T) {
	svc, store := newMemoryService(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(testutil.FixedClock(at))

	a := createAccount(t, svc)
	_, err := svc.DepositFunds(ctx, a, testutil.Money(t, "5.00"))
	require.NoError(t, err)

	events, err := store.ReadAll(ctx, a)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp())
}

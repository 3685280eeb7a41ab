package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
)

type AccountService struct {
	events eventStore
	retry  RetryPolicy
	now    func() time.Time
}

func NewAccountService(events eventStore, retry RetryPolicy) *AccountService {
	return &AccountService{
		events: events,
		retry:  retry,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source stamped on new events.
func (s *AccountService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateAccount registers an empty stream for a fresh id. No event is written;
// the account starts at version 0 with zero balance and limit.
func (s *AccountService) CreateAccount(ctx context.Context) (*domain.Account, error) {
	account := domain.NewAccount()
	account.SetClock(s.now)

	if err := s.events.Append(ctx, account.ID(), 0, nil); err != nil {
		return nil, fmt.Errorf("CreateAccount: %w", err)
	}

	logging.FromContext(ctx).Info("account created", "account_id", account.ID())
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return account, nil
}

func (s *AccountService) GetBalance(ctx context.Context, id uuid.UUID) (domain.Money, error) {
	account, err := s.load(ctx, id)
	if err != nil {
		return domain.Zero, fmt.Errorf("GetBalance: %w", err)
	}
	return account.Balance(), nil
}

func (s *AccountService) GetOverdraftLimit(ctx context.Context, id uuid.UUID) (domain.Money, error) {
	account, err := s.load(ctx, id)
	if err != nil {
		return domain.Zero, fmt.Errorf("GetOverdraftLimit: %w", err)
	}
	return account.OverdraftLimit(), nil
}

func (s *AccountService) DepositFunds(ctx context.Context, id uuid.UUID, amount domain.Money) (*domain.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("DepositFunds: amount must be positive: %w", domain.ErrInvalidArgument)
	}

	account, err := s.execute(ctx, "deposit", id, func(a *domain.Account) error {
		return a.AppendTransaction(amount)
	})
	if err != nil {
		return nil, fmt.Errorf("DepositFunds: %w", err)
	}

	logging.FromContext(ctx).Info("funds deposited",
		"account_id", id,
		"amount", amount.String(),
		"balance", account.Balance().String(),
		"version", account.Version(),
	)
	return account, nil
}

func (s *AccountService) WithdrawFunds(ctx context.Context, id uuid.UUID, amount domain.Money) (*domain.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("WithdrawFunds: amount must be positive: %w", domain.ErrInvalidArgument)
	}

	account, err := s.execute(ctx, "withdraw", id, func(a *domain.Account) error {
		return a.AppendTransaction(amount.Neg())
	})
	if err != nil {
		return nil, fmt.Errorf("WithdrawFunds: %w", err)
	}

	logging.FromContext(ctx).Info("funds withdrawn",
		"account_id", id,
		"amount", amount.String(),
		"balance", account.Balance().String(),
		"version", account.Version(),
	)
	return account, nil
}

func (s *AccountService) SetOverdraftLimit(ctx context.Context, id uuid.UUID, limit domain.Money) (*domain.Account, error) {
	account, err := s.execute(ctx, "set_overdraft_limit", id, func(a *domain.Account) error {
		return a.SetOverdraftLimit(limit)
	})
	if err != nil {
		return nil, fmt.Errorf("SetOverdraftLimit: %w", err)
	}

	logging.FromContext(ctx).Info("overdraft limit set",
		"account_id", id,
		"overdraft_limit", limit.String(),
		"version", account.Version(),
	)
	return account, nil
}

func (s *AccountService) CloseAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := s.execute(ctx, "close", id, func(a *domain.Account) error {
		return a.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("CloseAccount: %w", err)
	}

	logging.FromContext(ctx).Info("account closed",
		"account_id", id,
		"balance", account.Balance().String(),
		"version", account.Version(),
	)
	return account, nil
}

// execute runs one command against a freshly replayed account and persists
// what it produced, reloading and re-running on a version conflict.
func (s *AccountService) execute(ctx context.Context, op string, id uuid.UUID, command func(*domain.Account) error) (*domain.Account, error) {
	var result *domain.Account

	err := s.retry.do(ctx, op, func() error {
		account, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := command(account); err != nil {
			return err
		}
		if err := s.save(ctx, account); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AccountService) load(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	events, err := s.events.ReadAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	account, err := domain.Replay(id, events)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	account.SetClock(s.now)
	return account, nil
}

func (s *AccountService) save(ctx context.Context, account *domain.Account) error {
	if !account.HasPendingEvents() {
		return nil
	}
	if err := s.events.Append(ctx, account.ID(), account.LoadedVersion(), account.PendingEvents()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	account.MarkCommitted()
	return nil
}

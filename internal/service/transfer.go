package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
)

type TransferRequest struct {
	From   uuid.UUID
	To     uuid.UUID
	Amount domain.Money
}

// TransferResult holds both accounts as committed by the transfer.
type TransferResult struct {
	Debit  domain.AccountState
	Credit domain.AccountState
}

// TransferFunds moves amount between two accounts. The two streams are written
// separately: the debit first, then the credit. A credit that cannot be
// committed is undone by crediting the source back.
func (s *AccountService) TransferFunds(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	log := logging.FromContext(ctx)

	if err := validateTransfer(req); err != nil {
		return nil, fmt.Errorf("TransferFunds: %w", err)
	}

	source, err := s.debitSource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("TransferFunds: %w", err)
	}

	dest, err := s.execute(ctx, "transfer_credit", req.To, func(a *domain.Account) error {
		return a.AppendTransaction(req.Amount)
	})
	if err != nil {
		creditErr := fmt.Errorf("credit %s: %w", req.To, err)
		log.Warn("transfer credit failed, compensating source",
			"from_account", req.From,
			"to_account", req.To,
			"amount", req.Amount.String(),
			"error", err,
		)
		if compErr := s.compensate(ctx, req); compErr != nil {
			log.Error("transfer compensation failed",
				"from_account", req.From,
				"amount", req.Amount.String(),
				"error", compErr,
			)
			return nil, fmt.Errorf("TransferFunds: %w", errors.Join(creditErr, compErr))
		}
		return nil, fmt.Errorf("TransferFunds: %w", creditErr)
	}

	log.Info("transfer completed",
		"from_account", req.From,
		"to_account", req.To,
		"amount", req.Amount.String(),
		"from_version", source.Version(),
		"to_version", dest.Version(),
	)

	return &TransferResult{Debit: source.State(), Credit: dest.State()}, nil
}

func validateTransfer(req TransferRequest) error {
	if req.From == req.To {
		return fmt.Errorf("validateTransfer: source and destination are the same account: %w", domain.ErrInvalidArgument)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("validateTransfer: amount must be positive: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// debitSource checks both accounts against fresh replays and commits the
// debit. A conflict on the source repeats the checks from scratch.
func (s *AccountService) debitSource(ctx context.Context, req TransferRequest) (*domain.Account, error) {
	var source *domain.Account

	err := s.retry.do(ctx, "transfer_debit", func() error {
		from, err := s.load(ctx, req.From)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		to, err := s.load(ctx, req.To)
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}

		// Closed state of both sides outranks funds.
		if from.IsClosed() {
			return fmt.Errorf("source: %w", domain.ErrAccountClosed)
		}
		if to.IsClosed() {
			return fmt.Errorf("destination: %w", domain.ErrAccountClosed)
		}
		if err := from.CanDebit(req.Amount); err != nil {
			return fmt.Errorf("source: %w", err)
		}

		if err := from.AppendTransaction(req.Amount.Neg()); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if err := s.save(ctx, from); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		source = from
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("debitSource: %w", err)
	}
	return source, nil
}

// compensate credits the debited amount back to the source. It runs detached
// from the caller's cancellation so a dropped request does not strand funds.
func (s *AccountService) compensate(ctx context.Context, req TransferRequest) error {
	ctx = context.WithoutCancel(ctx)

	account, err := s.execute(ctx, "transfer_compensate", req.From, func(a *domain.Account) error {
		return a.AppendTransaction(req.Amount)
	})
	if err != nil {
		return fmt.Errorf("compensate %s: %w", req.From, err)
	}

	logging.FromContext(ctx).Info("transfer compensated",
		"account_id", req.From,
		"amount", req.Amount.String(),
		"version", account.Version(),
	)
	return nil
}

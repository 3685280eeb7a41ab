package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is the event-sourced aggregate root. Its state changes only by
// applying events, either during replay or as the result of a command.
type Account struct {
	id             uuid.UUID
	version        int64
	balance        Money
	overdraftLimit Money
	closed         bool

	pending []Event
	now     func() time.Time
}

// AccountState is a comparable snapshot of an Account.
type AccountState struct {
	ID             uuid.UUID
	Version        int64
	Balance        string
	OverdraftLimit string
	Closed         bool
}

// NewAccount creates an account with a fresh identity at version 0.
func NewAccount() *Account {
	return newAccount(uuid.New())
}

func newAccount(id uuid.UUID) *Account {
	return &Account{
		id:  id,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Replay rebuilds an account by applying events in order to the zero state.
func Replay(id uuid.UUID, events []Event) (*Account, error) {
	a := newAccount(id)
	for _, e := range events {
		if err := a.apply(e); err != nil {
			return nil, fmt.Errorf("Replay: %w", err)
		}
	}
	return a, nil
}

func (a *Account) ID() uuid.UUID          { return a.id }
func (a *Account) Version() int64         { return a.version }
func (a *Account) Balance() Money         { return a.balance }
func (a *Account) OverdraftLimit() Money  { return a.overdraftLimit }
func (a *Account) IsClosed() bool         { return a.closed }
func (a *Account) LoadedVersion() int64   { return a.version - int64(len(a.pending)) }
func (a *Account) HasPendingEvents() bool { return len(a.pending) > 0 }

func (a *Account) State() AccountState {
	return AccountState{
		ID:             a.id,
		Version:        a.version,
		Balance:        a.balance.String(),
		OverdraftLimit: a.overdraftLimit.String(),
		Closed:         a.closed,
	}
}

// PendingEvents returns the events produced by commands since the account was
// loaded or last committed.
func (a *Account) PendingEvents() []Event {
	out := make([]Event, len(a.pending))
	copy(out, a.pending)
	return out
}

// MarkCommitted drops the pending buffer once the store has accepted it.
func (a *Account) MarkCommitted() {
	a.pending = nil
}

// SetClock overrides the timestamp source used for new events.
func (a *Account) SetClock(now func() time.Time) {
	a.now = now
}

// AppendTransaction credits (positive) or debits (negative) the balance.
func (a *Account) AppendTransaction(amount Money) error {
	if err := a.checkNotClosed(); err != nil {
		return fmt.Errorf("AppendTransaction: %w", err)
	}
	if err := a.checkSufficientFunds(a.balance.Add(amount), a.overdraftLimit); err != nil {
		return fmt.Errorf("AppendTransaction: %w", err)
	}
	return a.trigger(TransactionAppended{EventMeta: a.nextMeta(), Amount: amount})
}

func (a *Account) SetOverdraftLimit(limit Money) error {
	if err := a.checkNotClosed(); err != nil {
		return fmt.Errorf("SetOverdraftLimit: %w", err)
	}
	if !limit.IsPositive() {
		return fmt.Errorf("SetOverdraftLimit: limit %s must be greater than zero: %w", limit, ErrInvalidArgument)
	}
	// A lower limit must still cover the current overdraft.
	if err := a.checkSufficientFunds(a.balance, limit); err != nil {
		return fmt.Errorf("SetOverdraftLimit: %w", err)
	}
	return a.trigger(OverdraftLimitSet{EventMeta: a.nextMeta(), OverdraftLimit: limit})
}

// Close marks the account closed. The balance is left as it is.
func (a *Account) Close() error {
	if err := a.checkNotClosed(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return a.trigger(Closed{EventMeta: a.nextMeta()})
}

// CanDebit reports whether a debit of amount would be accepted right now.
func (a *Account) CanDebit(amount Money) error {
	if err := a.checkNotClosed(); err != nil {
		return err
	}
	return a.checkSufficientFunds(a.balance.Sub(amount), a.overdraftLimit)
}

func (a *Account) checkNotClosed() error {
	if a.closed {
		return fmt.Errorf("account %s: %w", a.id, ErrAccountClosed)
	}
	return nil
}

func (a *Account) checkSufficientFunds(balance, limit Money) error {
	if balance.Add(limit).IsNegative() {
		return fmt.Errorf("account %s: balance %s below overdraft limit %s: %w", a.id, balance, limit, ErrInsufficientFunds)
	}
	return nil
}

func (a *Account) nextMeta() EventMeta {
	return EventMeta{Subject: a.id, Version: a.version + 1, At: a.now()}
}

func (a *Account) trigger(e Event) error {
	if err := a.apply(e); err != nil {
		return err
	}
	a.pending = append(a.pending, e)
	return nil
}

func (a *Account) apply(e Event) error {
	if e.SubjectID() != a.id {
		return fmt.Errorf("apply: event for %s applied to %s: %w", e.SubjectID(), a.id, ErrInvalidEventSequence)
	}
	if e.OriginatorVersion() != a.version+1 {
		return fmt.Errorf("apply: event version %d after %d: %w", e.OriginatorVersion(), a.version, ErrInvalidEventSequence)
	}

	switch ev := e.(type) {
	case TransactionAppended:
		a.balance = a.balance.Add(ev.Amount)
	case OverdraftLimitSet:
		a.overdraftLimit = ev.OverdraftLimit
	case Closed:
		a.closed = true
	default:
		return fmt.Errorf("apply: unknown event %T: %w", e, ErrInvalidEventSequence)
	}

	a.version = e.OriginatorVersion()
	return nil
}

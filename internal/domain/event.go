package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeTransactionAppended EventType = "account.transaction_appended"
	EventTypeOverdraftLimitSet   EventType = "account.overdraft_limit_set"
	EventTypeClosed              EventType = "account.closed"
)

// Event is an immutable fact about one account. The set of implementations is
// closed: only the types in this file satisfy it.
type Event interface {
	SubjectID() uuid.UUID
	// OriginatorVersion is the 1-based position of the event in its stream.
	OriginatorVersion() int64
	Timestamp() time.Time
	Type() EventType

	accountEvent()
}

// EventMeta is embedded by every event type.
type EventMeta struct {
	Subject uuid.UUID
	Version int64
	At      time.Time
}

func (m EventMeta) SubjectID() uuid.UUID     { return m.Subject }
func (m EventMeta) OriginatorVersion() int64 { return m.Version }
func (m EventMeta) Timestamp() time.Time     { return m.At }

// TransactionAppended adjusts the balance. Positive amounts credit, negative debit.
type TransactionAppended struct {
	EventMeta
	Amount Money
}

func (TransactionAppended) Type() EventType { return EventTypeTransactionAppended }
func (TransactionAppended) accountEvent()   {}

type OverdraftLimitSet struct {
	EventMeta
	OverdraftLimit Money
}

func (OverdraftLimitSet) Type() EventType { return EventTypeOverdraftLimitSet }
func (OverdraftLimitSet) accountEvent()   {}

type Closed struct {
	EventMeta
}

func (Closed) Type() EventType { return EventTypeClosed }
func (Closed) accountEvent()   {}

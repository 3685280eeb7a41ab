package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventRecord is the storage form of an Event.
type EventRecord struct {
	SubjectID         uuid.UUID
	OriginatorVersion int64
	Type              EventType
	Payload           json.RawMessage
	OccurredAt        time.Time
}

type transactionAppendedPayload struct {
	Amount Money `json:"amount"`
}

type overdraftLimitSetPayload struct {
	OverdraftLimit Money `json:"overdraft_limit"`
}

func EncodeEvent(e Event) (EventRecord, error) {
	var payload any
	switch ev := e.(type) {
	case TransactionAppended:
		payload = transactionAppendedPayload{Amount: ev.Amount}
	case OverdraftLimitSet:
		payload = overdraftLimitSetPayload{OverdraftLimit: ev.OverdraftLimit}
	case Closed:
		payload = struct{}{}
	default:
		return EventRecord{}, fmt.Errorf("EncodeEvent: unknown event %T: %w", e, ErrInvalidEventSequence)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("EncodeEvent: %w", err)
	}

	return EventRecord{
		SubjectID:         e.SubjectID(),
		OriginatorVersion: e.OriginatorVersion(),
		Type:              e.Type(),
		Payload:           b,
		OccurredAt:        e.Timestamp(),
	}, nil
}

func DecodeEvent(r EventRecord) (Event, error) {
	meta := EventMeta{Subject: r.SubjectID, Version: r.OriginatorVersion, At: r.OccurredAt}

	switch r.Type {
	case EventTypeTransactionAppended:
		var p transactionAppendedPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("DecodeEvent: %s v%d: %w", r.Type, r.OriginatorVersion, err)
		}
		return TransactionAppended{EventMeta: meta, Amount: p.Amount}, nil
	case EventTypeOverdraftLimitSet:
		var p overdraftLimitSetPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("DecodeEvent: %s v%d: %w", r.Type, r.OriginatorVersion, err)
		}
		return OverdraftLimitSet{EventMeta: meta, OverdraftLimit: p.OverdraftLimit}, nil
	case EventTypeClosed:
		return Closed{EventMeta: meta}, nil
	default:
		return nil, fmt.Errorf("DecodeEvent: unknown type %q: %w", r.Type, ErrInvalidEventSequence)
	}
}

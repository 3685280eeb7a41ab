package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
)

const eventColumns = `subject_id, originator_version, event_type, payload, occurred_at`

// EventRepository is the Postgres event store. Each account is a stream whose
// row in account_streams carries the optimistic concurrency token.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error {
	if err := checkBatch(subjectID, expectedVersion, events); err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	records := make([]domain.EventRecord, len(events))
	for i, e := range events {
		rec, err := domain.EncodeEvent(e)
		if err != nil {
			return fmt.Errorf("Append: %w", err)
		}
		records[i] = rec
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Append: begin tx: %w", err)
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_streams (id, version) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`,
			subjectID,
		); err != nil {
			return fmt.Errorf("Append: create stream: %w", err)
		}
	}

	newVersion := expectedVersion + int64(len(records))
	res, err := tx.ExecContext(ctx,
		`UPDATE account_streams SET version = $1, updated_at = now() WHERE id = $2 AND version = $3`,
		newVersion, subjectID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("Append: bump version: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Append: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Append: stream %s not at version %d: %w", subjectID, expectedVersion, domain.ErrVersionConflict)
	}

	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			rec.SubjectID, rec.OriginatorVersion, rec.Type, []byte(rec.Payload), rec.OccurredAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("Append: event v%d: %w", rec.OriginatorVersion, domain.ErrVersionConflict)
			}
			return fmt.Errorf("Append: insert event v%d: %w", rec.OriginatorVersion, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Append: commit: %w", err)
	}
	return nil
}

func (r *EventRepository) ReadAll(ctx context.Context, subjectID uuid.UUID) ([]domain.Event, error) {
	var version int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM account_streams WHERE id = $1`, subjectID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ReadAll: %s: %w", subjectID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ReadAll: stream: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM account_events
		WHERE subject_id = $1 ORDER BY originator_version`, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, version)
	for rows.Next() {
		rec, err := scanEventRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ReadAll: scan: %w", err)
		}
		e, err := domain.DecodeEvent(*rec)
		if err != nil {
			return nil, fmt.Errorf("ReadAll: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ReadAll: rows: %w", err)
	}
	return events, nil
}

func (r *EventRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanEventRecord(s scanner) (*domain.EventRecord, error) {
	var rec domain.EventRecord
	var payload []byte
	err := s.Scan(&rec.SubjectID, &rec.OriginatorVersion, &rec.Type, &payload, &rec.OccurredAt)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.OccurredAt = rec.OccurredAt.UTC()
	return &rec, nil
}

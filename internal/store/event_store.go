package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

// RecordEvent stores one audit row for a handled lifecycle event.
func (s *Store) RecordEvent(ctx context.Context, rec models.EventRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	payload := rec.Payload
	if payload == nil {
		payload = models.EventFields{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO membermouse_events (id, event_type, email, outcome, tag_id, error, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		string(rec.EventType),
		rec.Email,
		string(rec.Outcome),
		rec.TagID,
		rec.Error,
		body,
		rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", eventsTable, err)
	}

	return nil
}

// ListEvents returns up to limit audit rows, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `
	SELECT
		id::text,
		event_type,
		email,
		outcome,
		tag_id,
		error,
		payload,
		received_at
	FROM membermouse_events
	ORDER BY received_at DESC
	LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", eventsTable, err)
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		var (
			rec       models.EventRecord
			eventType string
			outcome   string
			tagID     sql.NullString
			errMsg    sql.NullString
			payload   []byte
		)
		if err := rows.Scan(&rec.ID, &eventType, &rec.Email, &outcome, &tagID, &errMsg, &payload, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", eventsTable, err)
		}
		rec.EventType = models.EventType(eventType)
		rec.Outcome = models.ActionOutcome(outcome)
		rec.TagID = nullStringPtr(tagID)
		rec.Error = nullStringPtr(errMsg)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("store: decode event payload: %w", err)
			}
		}
		events = append(events, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", eventsTable, err)
	}

	return events, nil
}

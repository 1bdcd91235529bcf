/*

This file persists emitted protocol events for off-chain observers: a
generic JSONB event log plus a flattened rebalance history table that the
dashboard queries per position.

*/

package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianfi/reallocator/internal/types"
)

// StoredEvent is one row of the protocol event log.
type StoredEvent struct {
	EventID   int64           `json:"event_id"`
	EventUUID string          `json:"event_uuid"`
	Kind      string          `json:"kind"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

// RebalanceRecord is one row of the rebalance history table.
type RebalanceRecord struct {
	RecordID     int64     `json:"record_id"`
	Owner        string    `json:"owner"`
	PositionID   uint64    `json:"position_id"`
	CurrentPrice uint64    `json:"current_price"`
	InRange      bool      `json:"in_range"`
	Action       string    `json:"action"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// SaveEvent appends an event to the protocol event log.
func SaveEvent(event types.Event) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO protocol_events (event_uuid, kind, payload)
		VALUES ($1, $2, $3)
		RETURNING event_id;
	`

	var eventID int64
	err = DB.QueryRow(query, uuid.NewString(), event.EventKind(), payload).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}
	return eventID, nil
}

// SaveRebalanceRecord appends a rebalance outcome to the history table.
func SaveRebalanceRecord(event types.RebalanceEvent) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO rebalance_history (owner, position_id, current_price, in_range, action)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := DB.Exec(query, event.Owner.String(), event.PositionID, event.CurrentPrice, event.InRange, string(event.Action))
	if err != nil {
		return fmt.Errorf("failed to save rebalance record: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events, newest first.
func RecentEvents(limit int) ([]StoredEvent, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, event_uuid, kind, emitted_at, payload
		FROM protocol_events
		ORDER BY event_id DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.EventID, &e.EventUUID, &e.Kind, &e.EmittedAt, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RebalanceHistory returns a position's rebalance records, newest first.
func RebalanceHistory(owner string, positionID uint64, limit int) ([]RebalanceRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT record_id, owner, position_id, current_price, in_range, action, recorded_at
		FROM rebalance_history
		WHERE owner = $1 AND position_id = $2
		ORDER BY record_id DESC
		LIMIT $3;
	`
	rows, err := DB.Query(query, owner, positionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance history: %w", err)
	}
	defer rows.Close()

	var records []RebalanceRecord
	for rows.Next() {
		var r RebalanceRecord
		if err := rows.Scan(&r.RecordID, &r.Owner, &r.PositionID, &r.CurrentPrice, &r.InRange, &r.Action, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DBEventSink persists every published event. Errors are logged, never
// propagated: event persistence is observability, not part of the
// instruction's atomic effect.
type DBEventSink struct{}

func NewDBEventSink() *DBEventSink {
	return &DBEventSink{}
}

func (DBEventSink) Publish(event types.Event) {
	if _, err := SaveEvent(event); err != nil {
		log.Error().Err(err).Str("kind", event.EventKind()).Msg("Failed to persist event")
		return
	}
	if rebalance, ok := event.(types.RebalanceEvent); ok {
		if err := SaveRebalanceRecord(rebalance); err != nil {
			log.Error().Err(err).Msg("Failed to persist rebalance record")
		}
	}
}

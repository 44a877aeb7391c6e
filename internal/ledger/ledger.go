// Package ledger keeps an append-only history of accessory lifecycle events.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventAccessoryAdded   EventType = "accessory_added"
	EventAccessoryUpdated EventType = "accessory_updated"
	EventAccessoryRemoved EventType = "accessory_removed"
	EventControllerFound  EventType = "controller_discovered"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID          int64          `json:"id"`
	EventType   EventType      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	AccessoryID string         `json:"accessory_id,omitempty"`
	Controller  string         `json:"controller,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ParseEventType returns the event type named s.
func ParseEventType(s string) (EventType, bool) {
	switch t := EventType(s); t {
	case EventAccessoryAdded, EventAccessoryUpdated, EventAccessoryRemoved, EventControllerFound:
		return t, true
	}
	return "", false
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, accessoryID, controller string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, accessory_id, controller, payload)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), l.now().UTC().Unix(), accessoryID, controller, string(payloadJSON))

	return err
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, accessory_id, controller, payload
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByAccessory returns the history of one accessory, newest first
func (l *Ledger) GetByAccessory(accessoryID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, accessory_id, controller, payload
		FROM event_ledger
		WHERE accessory_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, accessoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, accessoryID, controller sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &accessoryID, &controller, &payloadStr)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.AccessoryID = accessoryID.String
		entry.Controller = controller.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Package storage persists JSON documents in the resource_state table,
// keyed by (kind, id) with a version that increments on every write.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides generic versioned state storage with JSON payloads.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Apply upserts and deletes entries of one kind in a single transaction.
func (s *Store) Apply(kind string, upserts map[string][]byte, deletes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	for id, payload := range upserts {
		_, err := tx.Exec(`
			INSERT INTO resource_state (kind, id, payload, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(kind, id) DO UPDATE SET
				payload = excluded.payload,
				version = version + 1,
				updated_at = excluded.updated_at
		`, kind, id, string(payload), now)
		if err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", kind, id, err)
		}
	}
	for _, id := range deletes {
		if _, err := tx.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s state: %w", kind, err)
	}

	log.Debug().
		Str("kind", kind).
		Int("upserts", len(upserts)).
		Int("deletes", len(deletes)).
		Msg("Store.Apply completed")
	return nil
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// GetAll returns all entries for a kind with their versions.
func (s *Store) GetAll(kind string) (map[string][]byte, map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, payload, version FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	payloads := make(map[string][]byte)
	versions := make(map[string]int64)

	for rows.Next() {
		var id, payloadStr string
		var version int64

		if err := rows.Scan(&id, &payloadStr, &version); err != nil {
			return nil, nil, err
		}

		payloads[id] = []byte(payloadStr)
		versions[id] = version
	}

	return payloads, versions, rows.Err()
}

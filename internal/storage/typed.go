package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Apply stores upserts and removes deletes atomically.
func (s *TypedStore[T]) Apply(upserts map[string]T, deletes []string) error {
	payloads := make(map[string][]byte, len(upserts))
	for id, value := range upserts {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal state for %s: %w", id, err)
		}
		payloads[id] = payload
	}
	return s.store.Apply(s.kind, payloads, deletes)
}

// Clear removes all state for this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}

// GetAll retrieves all entries for this kind.
func (s *TypedStore[T]) GetAll() (map[string]T, map[string]int64, error) {
	payloads, versions, err := s.store.GetAll(s.kind)
	if err != nil {
		return nil, nil, err
	}

	values := make(map[string]T, len(payloads))
	for id, payload := range payloads {
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal state for %s: %w", id, err)
		}
		values[id] = value
	}

	return values, versions, nil
}

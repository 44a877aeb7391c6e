package accessory

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/ledger"
	"github.com/tagyoureit/luxord/internal/storage"
)

const storeKind = "accessory"

// Recorder receives the accessory history. *ledger.Ledger implements it.
type Recorder interface {
	Append(eventType ledger.EventType, accessoryID, controller string, payload map[string]any) error
}

// Store persists accessory records.
type Store struct {
	records  *storage.TypedStore[Record]
	recorder Recorder
}

// NewStore creates an accessory store. recorder may be nil.
func NewStore(s *storage.Store, recorder Recorder) *Store {
	return &Store{
		records:  storage.NewTypedStore[Record](s, storeKind),
		recorder: recorder,
	}
}

// Load returns the persisted accessories, oldest first.
func (s *Store) Load() ([]Record, error) {
	all, _, err := s.records.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load accessories: %w", err)
	}

	out := make([]Record, 0, len(all))
	for _, r := range all {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].UUID < out[j].UUID
	})
	return out, nil
}

// Apply persists a plan atomically, then records it in the ledger.
func (s *Store) Apply(plan Plan) error {
	upserts := make(map[string]Record, len(plan.Updated)+len(plan.Added))
	for _, r := range plan.Records() {
		upserts[r.UUID] = r
	}
	deletes := make([]string, 0, len(plan.Removed))
	for _, r := range plan.Removed {
		deletes = append(deletes, r.UUID)
	}

	if err := s.records.Apply(upserts, deletes); err != nil {
		return fmt.Errorf("failed to persist accessories: %w", err)
	}

	if s.recorder == nil {
		return nil
	}

	changed := make(map[string]bool, len(plan.Changed))
	for _, id := range plan.Changed {
		changed[id] = true
	}
	for _, r := range plan.Added {
		s.record(ledger.EventAccessoryAdded, r)
	}
	for _, r := range plan.Updated {
		if changed[r.UUID] {
			s.record(ledger.EventAccessoryUpdated, r)
		}
	}
	for _, r := range plan.Removed {
		s.record(ledger.EventAccessoryRemoved, r)
	}
	return nil
}

// Clear removes every persisted accessory.
func (s *Store) Clear() error {
	return s.records.Clear()
}

func (s *Store) record(eventType ledger.EventType, r Record) {
	payload := map[string]any{
		"display_name": r.DisplayName,
		"kind":         string(r.Context.Kind),
	}
	if err := s.recorder.Append(eventType, r.UUID, r.Context.Controller, payload); err != nil {
		log.Error().Err(err).Str("accessory", r.UUID).Str("event", string(eventType)).Msg("Failed to record ledger entry")
	}
}

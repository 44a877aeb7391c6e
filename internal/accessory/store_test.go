package accessory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagyoureit/luxord/internal/db"
	"github.com/tagyoureit/luxord/internal/ledger"
	"github.com/tagyoureit/luxord/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *ledger.Ledger) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "accessories.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	l := ledger.New(d.DB)
	return NewStore(storage.NewStore(d.DB), l), l
}

func TestStore_ApplyRoundTrip(t *testing.T) {
	s, l := newTestStore(t)

	first := Reconcile(nil, []Record{group(1, "Patio"), theme(0, "Evening")}, Options{Now: at(t0)})
	require.NoError(t, s.Apply(first))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	second := Reconcile(loaded, []Record{group(1, "Terrace")}, Options{Now: at(t1)})
	require.NoError(t, s.Apply(second))

	loaded, err = s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, GroupID(1), loaded[0].UUID)
	assert.Equal(t, "Terrace", loaded[0].DisplayName)
	assert.True(t, loaded[0].AddedAt.Equal(t0))

	added, err := l.GetByType(ledger.EventAccessoryAdded, 10)
	require.NoError(t, err)
	assert.Len(t, added, 2)

	updated, err := l.GetByType(ledger.EventAccessoryUpdated, 10)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "Terrace", updated[0].Payload["display_name"])

	removed, err := l.GetByType(ledger.EventAccessoryRemoved, 10)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, ThemeID(0), removed[0].AccessoryID)
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Apply(Reconcile(nil, []Record{group(1, "A")}, Options{Now: at(t0)})))

	require.NoError(t, s.Clear())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

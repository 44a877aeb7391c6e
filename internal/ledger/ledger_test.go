package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagyoureit/luxord/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return New(d.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Append(EventAccessoryAdded, "id-1", "lxzdc1", map[string]any{"name": "Patio"}))
	require.NoError(t, l.Append(EventAccessoryUpdated, "id-1", "lxzdc1", map[string]any{"name": "Terrace"}))
	require.NoError(t, l.Append(EventAccessoryAdded, "id-2", "lxzdc1", nil))

	added, err := l.GetByType(EventAccessoryAdded, 10)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "id-2", added[0].AccessoryID)
	assert.Nil(t, added[0].Payload)

	history, err := l.GetByAccessory("id-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventAccessoryUpdated, history[0].EventType)
	assert.Equal(t, "Terrace", history[0].Payload["name"])
	assert.Equal(t, "lxzdc1", history[0].Controller)
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)

	now := time.Now()
	l.now = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, l.Append(EventAccessoryRemoved, "old", "c", nil))
	l.now = func() time.Time { return now }
	require.NoError(t, l.Append(EventAccessoryRemoved, "new", "c", nil))

	n, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := l.GetByType(EventAccessoryRemoved, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].AccessoryID)
}

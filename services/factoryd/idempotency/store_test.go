package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, ttl time.Duration) (*Store, *time.Time) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "idem.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func TestPutAndGet(t *testing.T) {
	store, _ := openTestStore(t, time.Hour)
	key := Key("sfx1caller", "POST", "/v1/mint-channels/abc/mint", " req-1 ")
	require.Equal(t, "sfx1caller|POST|/v1/mint-channels/abc/mint|req-1", key)

	_, found, err := store.Get(key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Put(key, 200, []byte(`{"payout":99}`)))
	record, found, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 200, record.StatusCode)
	require.JSONEq(t, `{"payout":99}`, string(record.Body))
}

func TestExpiredEntriesAreDropped(t *testing.T) {
	store, now := openTestStore(t, time.Hour)
	require.NoError(t, store.Put("a", 200, []byte("{}")))
	require.NoError(t, store.Put("b", 200, []byte("{}")))

	*now = now.Add(2 * time.Hour)
	_, found, err := store.Get("a")
	require.NoError(t, err)
	require.False(t, found)

	removed, err := store.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ", 0)
	require.Error(t, err)
}

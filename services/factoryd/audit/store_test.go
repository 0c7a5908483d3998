package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"stablefactory/core/events"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, events.MintChannelCreated{Channel: "chan-a", Path: "gold", Capacity: 8}))
	require.NoError(t, store.Append(ctx, events.Minted{ReceiptID: "r-1", Channel: "chan-a", Amount: 100, Payout: 99, Fee: 1}))
	require.NoError(t, store.Append(ctx, events.BurnChannelCreated{Channel: "chan-b", Path: "gold-out"}))

	records, err := store.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, events.TypeBurnChannelCreated, records[0].Type)
	require.Equal(t, events.TypeMintChannelCreated, records[2].Type)

	minted, err := store.Recent(ctx, Query{Type: events.TypeMinted})
	require.NoError(t, err)
	require.Len(t, minted, 1)
	attrs, err := minted[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "99", attrs["payout"])
	require.Equal(t, "r-1", attrs["receipt"])

	byChannel, err := store.Recent(ctx, Query{Channel: "chan-a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byChannel, 1)
	require.Equal(t, events.TypeMinted, byChannel[0].Type)
}

func TestEmitSkipsUnrenderableEvents(t *testing.T) {
	store := openTestStore(t)
	require.Error(t, store.Append(context.Background(), bareEvent{}))

	store.Emit(bareEvent{})
	store.Emit(events.AppConfigSet{RollingPeriodHours: 24, Created: true})

	records, err := store.Recent(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, events.TypeAppConfigSet, records[0].Type)
}

func TestDialectorSelection(t *testing.T) {
	for _, dsn := range []string{"postgres://factory@db/audit", "host=db user=factory dbname=audit"} {
		if _, ok := Dialector(dsn).(*postgres.Dialector); !ok {
			t.Fatalf("expected postgres dialector for %q", dsn)
		}
	}
	if Dialector("audit.sqlite").Name() != "sqlite" {
		t.Fatalf("expected sqlite dialector")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

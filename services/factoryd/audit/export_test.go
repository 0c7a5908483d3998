package audit

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stablefactory/core/events"
)

func TestExportWritesWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, events.MintChannelCreated{Channel: "chan-a", Path: "gold", Capacity: 2}))
	require.NoError(t, store.Append(ctx, events.Minted{ReceiptID: "r-1", Channel: "chan-a", Amount: 100, Fee: 1, Payout: 99}))
	require.NoError(t, store.Append(ctx, events.FeeWithdrawn{Source: "custody-GOLD", Destination: "ops", Asset: "GOLD", Amount: 1}))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := base.Add(2 * time.Second)
	end := base.Add(3 * time.Second)

	window, err := store.Between(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, events.TypeMinted, window[0].Type)

	dir := t.TempDir()
	report, err := store.Export(ctx, dir, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, report.Count)

	file, err := os.Open(report.CSVPath)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, []string{"id", "type", "channel", "created_at"}, rows[0][:4])
	require.Equal(t, events.TypeMintChannelCreated, rows[1][1])
	payoutCol := -1
	for i, name := range rows[0] {
		if name == "payout" {
			payoutCol = i
		}
	}
	require.NotEqual(t, -1, payoutCol)
	require.Equal(t, "99", rows[2][payoutCol])
	require.Equal(t, "", rows[3][payoutCol])

	raw, err := os.ReadFile(report.ParquetPath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 8)
	require.Equal(t, "PAR1", string(raw[:4]))
	require.Equal(t, "PAR1", string(raw[len(raw)-4:]))
}

func TestBetweenRejectsEmptyWindow(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	_, err := store.Between(context.Background(), now, now)
	require.Error(t, err)
}

func TestExportRemovesPartialOutput(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, events.Minted{ReceiptID: "r-1", Channel: "chan-a", Amount: 100, Payout: 100}))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	dir := t.TempDir()
	base := "factory-events-20260301T120000-20260301T120100"
	blocker := filepath.Join(dir, base+".parquet")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	_, err := store.Export(ctx, dir, start, end)
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, base+".csv"))
	require.True(t, os.IsNotExist(err), "csv left behind: %v", err)
	_, err = os.Stat(filepath.Join(blocker, "keep"))
	require.NoError(t, err)
}

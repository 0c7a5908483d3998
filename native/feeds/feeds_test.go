package feeds

import (
	"errors"
	"testing"
	"time"

	"stablefactory/core/state"
	"stablefactory/storage"
)

func TestSubmitAndReadLatestRound(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	base := time.Unix(1_700_000_000, 0).UTC()
	err := mgr.Atomic(func(tx *state.Tx) error {
		reg := NewRegistry(tx)
		if _, err := reg.CreateFeed("gold-usd", "Gold / USD", 8); err != nil {
			return err
		}
		if _, err := reg.LatestRound("gold-usd"); !errors.Is(err, ErrNoRound) {
			t.Fatalf("expected ErrNoRound, got %v", err)
		}
		if _, err := reg.SubmitRound("gold-usd", 2_000_00000000, base); err != nil {
			return err
		}
		_, err := reg.SubmitRound("gold-usd", -5, base.Add(time.Minute))
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		round, err := NewRegistry(tx).LatestRound("gold-usd")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if round.ID != 2 || round.Answer != -5 || round.Decimals != 8 {
			t.Fatalf("unexpected round: %+v", round)
		}
		if !round.UpdatedAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("unexpected timestamp: %v", round.UpdatedAt)
		}
		return nil
	})
}

func TestSubmitRejectsBackdatedRound(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	base := time.Unix(1_700_000_000, 0)
	err := mgr.Atomic(func(tx *state.Tx) error {
		reg := NewRegistry(tx)
		if _, err := reg.CreateFeed("eth-usd", "", 8); err != nil {
			return err
		}
		if _, err := reg.SubmitRound("eth-usd", 1, base); err != nil {
			return err
		}
		_, err := reg.SubmitRound("eth-usd", 2, base.Add(-time.Second))
		return err
	})
	if !errors.Is(err, ErrStaleRound) {
		t.Fatalf("expected ErrStaleRound, got %v", err)
	}
}

func TestCreateFeedValidation(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	tests := []struct {
		name     string
		id       string
		decimals uint8
		want     error
	}{
		{name: "empty id", id: " ", decimals: 8, want: ErrInvalidFeed},
		{name: "too precise", id: "x", decimals: 20, want: ErrInvalidFeed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := mgr.Atomic(func(tx *state.Tx) error {
				_, err := NewRegistry(tx).CreateFeed(tc.id, "", tc.decimals)
				return err
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	err := mgr.Atomic(func(tx *state.Tx) error {
		reg := NewRegistry(tx)
		if _, err := reg.CreateFeed("dup", "", 6); err != nil {
			return err
		}
		_, err := reg.CreateFeed("dup", "", 6)
		return err
	})
	if !errors.Is(err, ErrFeedExists) {
		t.Fatalf("expected ErrFeedExists, got %v", err)
	}
}

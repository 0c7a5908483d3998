package factory

import (
	"errors"
	"math"
	"testing"
)

func TestMultiplyFraction(t *testing.T) {
	tests := []struct {
		value, num, den uint64
		want            uint64
	}{
		{1_000_000, 6000, BasisPoints, 600_000},
		{7, 1, 2, 3},
		{0, 5, 7, 0},
		{math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64},
		{math.MaxUint64, 3, 4, 13_835_058_055_282_163_711},
	}
	for _, tc := range tests {
		got, err := MultiplyFraction(tc.value, tc.num, tc.den)
		if err != nil {
			t.Fatalf("MultiplyFraction(%d, %d, %d): %v", tc.value, tc.num, tc.den, err)
		}
		if got != tc.want {
			t.Fatalf("MultiplyFraction(%d, %d, %d) = %d, want %d", tc.value, tc.num, tc.den, got, tc.want)
		}
	}
}

func TestMultiplyFractionFailures(t *testing.T) {
	if _, err := MultiplyFraction(1, 1, 0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow for zero denominator, got %v", err)
	}
	if _, err := MultiplyFraction(math.MaxUint64, 2, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow for oversized quotient, got %v", err)
	}
}

func TestPow10AndRescale(t *testing.T) {
	got, err := Pow10(MaxDecimals)
	if err != nil || got != 10_000_000_000_000_000_000 {
		t.Fatalf("Pow10(19) = %d, %v", got, err)
	}
	if _, err := Pow10(MaxDecimals + 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow for 10^20, got %v", err)
	}
	if got, err := Rescale(1_234_567, 6, 2); err != nil || got != 123 {
		t.Fatalf("Rescale down = %d, %v", got, err)
	}
	if got, err := Rescale(5, 0, 18); err != nil || got != 5_000_000_000_000_000_000 {
		t.Fatalf("Rescale up = %d, %v", got, err)
	}
	if _, err := Rescale(math.MaxUint64, 0, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow rescaling max value, got %v", err)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := CheckedAdd(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if got, err := CheckedAdd(math.MaxUint64-1, 1); err != nil || got != math.MaxUint64 {
		t.Fatalf("CheckedAdd = %d, %v", got, err)
	}
	if _, err := CheckedSub(1, 2); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected sub underflow, got %v", err)
	}
}

func TestSplitFeeConserves(t *testing.T) {
	for _, fee := range []uint16{0, 1, 333, MaxFeeBps} {
		for _, amount := range []uint64{1, 3, 10_000, math.MaxUint64} {
			f, payout, err := splitFee(amount, fee)
			if err != nil {
				t.Fatalf("splitFee(%d, %d): %v", amount, fee, err)
			}
			if f+payout != amount {
				t.Fatalf("splitFee(%d, %d) lost value: %d + %d", amount, fee, f, payout)
			}
		}
	}
}

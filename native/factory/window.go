package factory

import (
	"fmt"
	"time"
)

// windowSnapshot is taken once per conversion and never re-derived.
type windowSnapshot struct {
	now      int64
	inWindow bool
	issued   uint64
}

// snapshotWindow evaluates the rolling period for counters at now. The
// period is still running while anchor + period > now.
func snapshotWindow(counters Counters, hours uint32, now time.Time) windowSnapshot {
	ts := now.Unix()
	end := counters.PeriodAnchor + int64(hours)*3600
	inWindow := end > ts
	snap := windowSnapshot{now: ts, inWindow: inWindow}
	if inWindow {
		snap.issued = counters.PeriodIssued
	}
	return snap
}

// checkCaps rejects amount when either cap would be exceeded.
func (w windowSnapshot) checkCaps(counters Counters, amount uint64) error {
	period, err := CheckedAdd(w.issued, amount)
	if err != nil {
		return fmt.Errorf("%w: period issuance overflows", ErrLimitReached)
	}
	if period > counters.PeriodCap {
		return fmt.Errorf("%w: period issuance %d would exceed cap %d", ErrLimitReached, period, counters.PeriodCap)
	}
	lifetime, err := CheckedAdd(counters.LifetimeIssued, amount)
	if err != nil {
		return fmt.Errorf("%w: lifetime issuance overflows", ErrLimitReached)
	}
	if lifetime > counters.LifetimeCap {
		return fmt.Errorf("%w: lifetime issuance %d would exceed cap %d", ErrLimitReached, lifetime, counters.LifetimeCap)
	}
	return nil
}

// apply records amount against the counters using the snapshot and reports
// whether the window was restarted.
func (w windowSnapshot) apply(counters *Counters, amount uint64) (bool, error) {
	lifetime, err := CheckedAdd(counters.LifetimeIssued, amount)
	if err != nil {
		return false, err
	}
	period, err := CheckedAdd(w.issued, amount)
	if err != nil {
		return false, err
	}
	counters.LifetimeIssued = lifetime
	counters.PeriodIssued = period
	if !w.inWindow {
		counters.PeriodAnchor = w.now
		return true, nil
	}
	return false, nil
}

// windowRemaining reports how much can still be issued in the current period.
func windowRemaining(counters Counters, hours uint32, now time.Time) uint64 {
	snap := snapshotWindow(counters, hours, now)
	period := uint64(0)
	if counters.PeriodCap > snap.issued {
		period = counters.PeriodCap - snap.issued
	}
	lifetime := uint64(0)
	if counters.LifetimeCap > counters.LifetimeIssued {
		lifetime = counters.LifetimeCap - counters.LifetimeIssued
	}
	if lifetime < period {
		return lifetime
	}
	return period
}

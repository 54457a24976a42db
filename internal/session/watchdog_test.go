// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WATCHDOG TESTS
// =============================================================================

func TestWatchdogFires(t *testing.T) {
	fired := make(chan time.Duration, 1)
	w := NewWatchdog(20*time.Millisecond, func(idle time.Duration) { fired <- idle })
	w.Start()
	defer w.Stop()

	select {
	case idle := <-fired:
		if idle < 20*time.Millisecond {
			t.Errorf("idle = %v, want >= 20ms", idle)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	if !w.Fired() {
		t.Error("Fired() should be true")
	}
}

func TestWatchdogStop(t *testing.T) {
	var calls int32
	w := NewWatchdog(20*time.Millisecond, func(time.Duration) { atomic.AddInt32(&calls, 1) })
	w.Start()
	w.Stop()
	w.Stop()

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("stopped watchdog should not fire")
	}
}

func TestWatchdogDisabled(t *testing.T) {
	w := NewWatchdog(0, func(time.Duration) { t.Error("disabled watchdog fired") })
	w.Start()
	defer w.Stop()

	if w.RemainingTime() != 0 {
		t.Errorf("RemainingTime = %v, want 0", w.RemainingTime())
	}
	time.Sleep(10 * time.Millisecond)
}

func TestWatchdogActivity(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewWatchdog(time.Minute, nil)
	w.now = func() time.Time { return now }
	w.Start()
	defer w.Stop()

	now = now.Add(40 * time.Second)
	if got := w.RemainingTime(); got != 20*time.Second {
		t.Errorf("RemainingTime = %v, want 20s", got)
	}

	w.RecordActivity()
	if got := w.RemainingTime(); got != time.Minute {
		t.Errorf("RemainingTime after activity = %v, want 1m", got)
	}

	now = now.Add(2 * time.Minute)
	if got := w.RemainingTime(); got != 0 {
		t.Errorf("RemainingTime past deadline = %v, want 0", got)
	}
}

func TestWatchdogRemainingAfterStop(t *testing.T) {
	w := NewWatchdog(time.Minute, nil)
	w.Start()
	if w.RemainingTime() <= 0 {
		t.Error("armed watchdog should report time left")
	}
	w.Stop()
	if got := w.RemainingTime(); got != 0 {
		t.Errorf("RemainingTime after Stop = %v, want 0", got)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"
)

// =============================================================================
// IDLE WATCHDOG
// =============================================================================

// Watchdog fires once when no activity was recorded for the timeout.
// A zero or negative timeout disables it.
type Watchdog struct {
	mu sync.Mutex

	timeout      time.Duration
	startTime    time.Time
	lastActivity time.Time
	timer        *time.Timer
	stopped      bool
	fired        bool

	onTimeout func(idle time.Duration)

	// now is replaced in tests.
	now func() time.Time
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(timeout time.Duration, onTimeout func(idle time.Duration)) *Watchdog {
	return &Watchdog{
		timeout:   timeout,
		onTimeout: onTimeout,
		now:       time.Now,
	}
}

// Start arms the timer.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout <= 0 || w.timer != nil || w.stopped {
		return
	}
	now := w.now()
	w.startTime = now
	w.lastActivity = now
	w.timer = time.AfterFunc(w.timeout, w.check)
}

// RecordActivity pushes the deadline back.
func (w *Watchdog) RecordActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = w.now()
}

// idleLocked returns how long since the last activity. Caller holds mu.
func (w *Watchdog) idleLocked() time.Duration {
	if w.lastActivity.IsZero() {
		return 0
	}
	return w.now().Sub(w.lastActivity)
}

// RemainingTime returns time until the watchdog fires.
func (w *Watchdog) RemainingTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout <= 0 || w.lastActivity.IsZero() || w.stopped || w.fired {
		return 0
	}
	remaining := w.timeout - w.idleLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stop disarms the watchdog. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Fired reports whether the timeout callback ran.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// check runs on the timer goroutine. Activity recorded since arming moves
// the deadline, so the timer is re-armed for what is left.
func (w *Watchdog) check() {
	w.mu.Lock()
	if w.stopped || w.fired {
		w.mu.Unlock()
		return
	}
	idle := w.idleLocked()
	if idle < w.timeout {
		w.timer.Reset(w.timeout - idle)
		w.mu.Unlock()
		return
	}
	w.fired = true
	onTimeout := w.onTimeout
	w.mu.Unlock()

	// Execute callback outside lock
	if onTimeout != nil {
		onTimeout(idle)
	}
}

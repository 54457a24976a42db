// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "sync"

// InputLock is the exclusivity gate over the single input control. It is
// held from submit until the turn reaches a terminal state.
type InputLock struct {
	// notifyMu spans a state change and its sink call so the sink sees
	// enable/disable in the same order the lock changed hands.
	notifyMu sync.Mutex

	mu     sync.Mutex
	held   bool
	holder string
	sink   Sink
}

// NewInputLock creates an unlocked gate. The sink, if any, is told to
// disable and enable input as the lock changes hands.
func NewInputLock(sink Sink) *InputLock {
	return &InputLock{sink: sink}
}

// Acquire takes the lock for holder or fails with ErrAlreadyLocked.
func (l *InputLock) Acquire(holder string) error {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return ErrAlreadyLocked
	}
	l.held = true
	l.holder = holder
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.SetInputEnabled(false)
	}
	return nil
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *InputLock) Release() {
	l.release("")
}

// ReleaseFor frees the lock only if holder still owns it. A finished turn
// uses it so it can never free a lock taken by a later turn.
func (l *InputLock) ReleaseFor(holder string) bool {
	return l.release(holder)
}

func (l *InputLock) release(holder string) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if !l.held || (holder != "" && l.holder != holder) {
		l.mu.Unlock()
		return false
	}
	l.held = false
	l.holder = ""
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.SetInputEnabled(true)
	}
	return true
}

// Locked reports whether the lock is held.
func (l *InputLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Holder returns the id that holds the lock, or "".
func (l *InputLock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"sync"
	"time"
)

const (
	// authFailureLimit failed secret comparisons within authFailureWindow
	// block the source address for authBlockDuration. Only broadcaster
	// auth counts; client auth is never rate-limited.
	authFailureLimit  = 5
	authFailureWindow = time.Minute
	authBlockDuration = 5 * time.Minute
)

type limiterEntry struct {
	failures     []time.Time
	blockedUntil time.Time
}

// authLimiter tracks failed broadcaster authentication attempts per
// source address. Owned exclusively by the gateway.
type authLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time
}

func newAuthLimiter() *authLimiter {
	return &authLimiter{
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Blocked reports whether the address is currently locked out. A blocked
// address is rejected before its secret is even compared.
func (l *authLimiter) Blocked(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[addr]
	if !ok {
		return false
	}

	return l.now().Before(entry.blockedUntil)
}

// RecordFailure notes one failed secret comparison and reports whether the
// address just crossed the block threshold.
func (l *authLimiter) RecordFailure(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	entry, ok := l.entries[addr]
	if !ok {
		entry = &limiterEntry{}
		l.entries[addr] = entry
	}

	// Keep only failures still inside the counting window.
	kept := entry.failures[:0]

	for _, t := range entry.failures {
		if now.Sub(t) < authFailureWindow {
			kept = append(kept, t)
		}
	}

	entry.failures = append(kept, now)

	if len(entry.failures) >= authFailureLimit {
		entry.blockedUntil = now.Add(authBlockDuration)
		entry.failures = nil

		return true
	}

	return false
}

// Clear wipes the failure count for an address after a successful
// authentication.
func (l *authLimiter) Clear(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, addr)
}

// sweepLocked drops entries with no live failures and an expired block so
// the table stays bounded. Callers must hold l.mu.
func (l *authLimiter) sweepLocked(now time.Time) {
	for addr, entry := range l.entries {
		if now.Before(entry.blockedUntil) {
			continue
		}

		live := false

		for _, t := range entry.failures {
			if now.Sub(t) < authFailureWindow {
				live = true
				break
			}
		}

		if !live {
			delete(l.entries, addr)
		}
	}
}

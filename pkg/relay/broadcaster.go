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

// Package relay implements the in-process tap event hub: duplicate
// suppression for noisy hardware reads plus synchronous fan-out to every
// subscribed listener.
package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/stuco-pos/taprelay/pkg/logger"
	"github.com/stuco-pos/taprelay/pkg/models"
)

const (
	// DebounceWindow is how long a repeat tap of the same card is
	// treated as reader noise and suppressed. First tap in the window
	// wins; later ones are dropped, not merged or queued.
	DebounceWindow = time.Second

	// maxRecentTaps bounds the dedupe table under a sustained stream of
	// distinct cards.
	maxRecentTaps = 100

	// sweepInterval is the cadence of the background purge of stale
	// dedupe records.
	sweepInterval = 10 * time.Second
)

// Listener receives every accepted tap event. Implementations must not
// block; the broadcaster invokes them synchronously on the publish path.
type Listener func(models.TapEvent)

// UnsubscribeFunc removes the registration returned by Subscribe. Calling
// it more than once is a no-op.
type UnsubscribeFunc func()

// registration wraps a listener so each Subscribe call is independently
// revocable even when the same function value is subscribed twice.
type registration struct {
	fn Listener
}

// Broadcaster is the single source of truth for "a tap happened". One
// instance is constructed at process startup and injected into every
// component that publishes or subscribes.
type Broadcaster struct {
	mu        sync.Mutex
	listeners []*registration
	recent    map[string]time.Time

	logger logger.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewBroadcaster creates a broadcaster and starts its background sweep of
// stale dedupe records. Call Close to stop the sweep.
func NewBroadcaster(log logger.Logger) *Broadcaster {
	b := &Broadcaster{
		recent: make(map[string]time.Time),
		logger: log,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	go b.sweepLoop()

	return b
}

// Subscribe registers a listener and returns a capability that removes
// exactly that registration. There is no subscriber limit at this layer.
func (b *Broadcaster) Subscribe(fn Listener) UnsubscribeFunc {
	reg := &registration{fn: fn}

	b.mu.Lock()
	b.listeners = append(b.listeners, reg)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, r := range b.listeners {
			if r == reg {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Broadcast delivers the event to every current listener unless a prior
// tap of the same card is still inside the debounce window. It reports
// whether the event was accepted.
func (b *Broadcaster) Broadcast(event models.TapEvent) bool {
	b.mu.Lock()

	now := b.now()

	if prior, ok := b.recent[event.CardUID]; ok && now.Sub(prior) < DebounceWindow {
		b.mu.Unlock()
		b.logger.Debug().
			Str("card_uid", event.CardUID).
			Dur("window", DebounceWindow).
			Msg("Duplicate tap ignored")

		return false
	}

	b.recent[event.CardUID] = now
	b.purgeLocked(now)

	snapshot := make([]*registration, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	b.logger.Info().
		Str("card_uid", event.CardUID).
		Str("lane", event.Lane).
		Int("listeners", len(snapshot)).
		Msg("Broadcasting tap")

	for _, reg := range snapshot {
		b.invoke(reg.fn, event)
	}

	return true
}

// invoke calls one listener, containing any panic so a failing subscriber
// never blocks delivery to the rest or destabilizes the publisher.
func (b *Broadcaster) invoke(fn Listener, event models.TapEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("card_uid", event.CardUID).
				Msg("Tap listener panicked")
		}
	}()

	fn(event)
}

// ListenerCount reports the number of active subscriptions.
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners)
}

// RecentTapCount reports how many cards are currently tracked for dedupe.
func (b *Broadcaster) RecentTapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.recent)
}

// ClearHistory drops all dedupe state. Intended for tests.
func (b *Broadcaster) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent = make(map[string]time.Time)
}

// Close stops the background sweep. Safe to call more than once.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}

func (b *Broadcaster) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.purgeLocked(b.now())
			b.mu.Unlock()
		}
	}
}

// purgeLocked removes dedupe records older than twice the debounce window
// and, if the table is still over capacity, evicts the oldest entries.
// Callers must hold b.mu.
func (b *Broadcaster) purgeLocked(now time.Time) {
	cutoff := now.Add(-2 * DebounceWindow)

	for uid, seen := range b.recent {
		if seen.Before(cutoff) {
			delete(b.recent, uid)
		}
	}

	if len(b.recent) <= maxRecentTaps {
		return
	}

	type record struct {
		uid  string
		seen time.Time
	}

	records := make([]record, 0, len(b.recent))
	for uid, seen := range b.recent {
		records = append(records, record{uid: uid, seen: seen})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].seen.Before(records[j].seen)
	})

	for _, r := range records[:len(records)-maxRecentTaps] {
		delete(b.recent, r.uid)
	}
}

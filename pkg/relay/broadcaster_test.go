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

package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuco-pos/taprelay/pkg/logger"
	"github.com/stuco-pos/taprelay/pkg/models"
)

// testClock drives the broadcaster's notion of time without sleeping.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}

	b := NewBroadcaster(logger.NewTestLogger())
	b.now = clock.Now

	t.Cleanup(b.Close)

	return b, clock
}

func tap(uid string) models.TapEvent {
	return models.TapEvent{CardUID: uid, Lane: DefaultLane, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func TestBroadcaster_DebounceWindow(t *testing.T) {
	b, clock := newTestBroadcaster(t)

	assert.True(t, b.Broadcast(tap("04A1B2C3")), "first tap must be accepted")

	clock.Advance(200 * time.Millisecond)
	assert.False(t, b.Broadcast(tap("04A1B2C3")), "repeat inside the window must be dropped")

	// First-wins: the rejected tap must not have refreshed the window, so
	// one second after the first accepted tap the card is broadcastable again.
	clock.Advance(800 * time.Millisecond)
	assert.True(t, b.Broadcast(tap("04A1B2C3")), "tap at exactly the window edge must be accepted")
}

func TestBroadcaster_DebounceRejectDoesNotExtendWindow(t *testing.T) {
	b, clock := newTestBroadcaster(t)

	require.True(t, b.Broadcast(tap("CAFE")))

	for i := 0; i < 4; i++ {
		clock.Advance(200 * time.Millisecond)
		assert.False(t, b.Broadcast(tap("CAFE")))
	}

	clock.Advance(200 * time.Millisecond)
	assert.True(t, b.Broadcast(tap("CAFE")),
		"window is measured from the first accepted tap, not the last attempt")
}

func TestBroadcaster_DistinctCardsDoNotInterfere(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	assert.True(t, b.Broadcast(tap("AAAA")))
	assert.True(t, b.Broadcast(tap("BBBB")))
}

func TestBroadcaster_FanOutOrder(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	var order []int

	for i := 0; i < 5; i++ {
		i := i

		b.Subscribe(func(models.TapEvent) {
			order = append(order, i)
		})
	}

	require.True(t, b.Broadcast(tap("04A1B2C3")))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "listeners fire once each, in subscription order")
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b, clock := newTestBroadcaster(t)

	var first, second int

	listener := func(models.TapEvent) { first++ }

	unsub := b.Subscribe(listener)
	b.Subscribe(func(e models.TapEvent) { second++ })

	require.True(t, b.Broadcast(tap("1111")))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	unsub()
	unsub() // idempotent

	clock.Advance(2 * time.Second)
	require.True(t, b.Broadcast(tap("1111")))
	assert.Equal(t, 1, first, "unsubscribed listener receives nothing further")
	assert.Equal(t, 2, second)
}

func TestBroadcaster_UnsubscribeIsPerRegistration(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	var calls int

	listener := func(models.TapEvent) { calls++ }

	// The same function subscribed twice yields independently revocable
	// registrations.
	unsubA := b.Subscribe(listener)
	b.Subscribe(listener)

	unsubA()

	require.True(t, b.Broadcast(tap("2222")))
	assert.Equal(t, 1, calls, "only the revoked registration stops receiving")
	assert.Equal(t, 1, b.ListenerCount())
}

func TestBroadcaster_ListenerPanicIsolation(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	var delivered bool

	b.Subscribe(func(models.TapEvent) {
		panic("listener blew up")
	})
	b.Subscribe(func(models.TapEvent) {
		delivered = true
	})

	require.NotPanics(t, func() {
		assert.True(t, b.Broadcast(tap("3333")))
	})
	assert.True(t, delivered, "a panicking listener must not block later listeners")
}

func TestBroadcaster_CapacityBound(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	for i := 0; i < 1000; i++ {
		require.True(t, b.Broadcast(tap(fmt.Sprintf("UID-%04d", i))))
		assert.LessOrEqual(t, b.RecentTapCount(), maxRecentTaps)
	}
}

func TestBroadcaster_PurgeEvictsOldestFirst(t *testing.T) {
	b, clock := newTestBroadcaster(t)

	require.True(t, b.Broadcast(tap("OLDEST")))

	// Push the table over capacity within the retention period so the
	// age-based purge alone cannot shrink it.
	clock.Advance(500 * time.Millisecond)

	for i := 0; i <= maxRecentTaps; i++ {
		require.True(t, b.Broadcast(tap(fmt.Sprintf("NEW-%04d", i))))
	}

	assert.Equal(t, maxRecentTaps, b.RecentTapCount())

	// OLDEST was evicted, so it is broadcastable again even though its
	// original window has not elapsed.
	assert.True(t, b.Broadcast(tap("OLDEST")))
}

func TestBroadcaster_StaleRecordsPurged(t *testing.T) {
	b, clock := newTestBroadcaster(t)

	require.True(t, b.Broadcast(tap("AAAA")))
	require.Equal(t, 1, b.RecentTapCount())

	clock.Advance(2*DebounceWindow + time.Millisecond)
	require.True(t, b.Broadcast(tap("BBBB")))

	assert.Equal(t, 1, b.RecentTapCount(), "records older than twice the window are purged")
}

func TestBroadcaster_ClearHistory(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	require.True(t, b.Broadcast(tap("AAAA")))
	require.False(t, b.Broadcast(tap("AAAA")))

	b.ClearHistory()

	assert.Zero(t, b.RecentTapCount())
	assert.True(t, b.Broadcast(tap("AAAA")))
}

func TestBroadcaster_ListenerCount(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	assert.Zero(t, b.ListenerCount())

	unsub := b.Subscribe(func(models.TapEvent) {})
	b.Subscribe(func(models.TapEvent) {})
	assert.Equal(t, 2, b.ListenerCount())

	unsub()
	assert.Equal(t, 1, b.ListenerCount())
}

func TestBroadcaster_ConcurrentBroadcastAndSubscribe(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i

		wg.Add(2)

		go func() {
			defer wg.Done()

			unsub := b.Subscribe(func(models.TapEvent) {})
			unsub()
		}()

		go func() {
			defer wg.Done()
			b.Broadcast(tap(fmt.Sprintf("C-%d", i)))
		}()
	}

	wg.Wait()
}

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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*authLimiter, *time.Time) {
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	l := newAuthLimiter()
	l.now = func() time.Time { return now }

	return l, &now
}

func TestAuthLimiter_BlocksAfterLimit(t *testing.T) {
	l, now := newTestLimiter()

	for i := 0; i < authFailureLimit-1; i++ {
		assert.False(t, l.RecordFailure("10.0.0.1"))
		assert.False(t, l.Blocked("10.0.0.1"))

		*now = now.Add(time.Second)
	}

	assert.True(t, l.RecordFailure("10.0.0.1"), "fifth failure within the window trips the block")
	assert.True(t, l.Blocked("10.0.0.1"))
}

func TestAuthLimiter_BlockExpires(t *testing.T) {
	l, now := newTestLimiter()

	for i := 0; i < authFailureLimit; i++ {
		l.RecordFailure("10.0.0.1")
	}

	require.True(t, l.Blocked("10.0.0.1"))

	*now = now.Add(authBlockDuration - time.Second)
	assert.True(t, l.Blocked("10.0.0.1"))

	*now = now.Add(2 * time.Second)
	assert.False(t, l.Blocked("10.0.0.1"), "block lifts after five minutes")
}

func TestAuthLimiter_FailuresExpireOutsideWindow(t *testing.T) {
	l, now := newTestLimiter()

	for i := 0; i < authFailureLimit-1; i++ {
		l.RecordFailure("10.0.0.1")
	}

	// The counting window has passed; old failures no longer count.
	*now = now.Add(authFailureWindow + time.Second)

	assert.False(t, l.RecordFailure("10.0.0.1"))
	assert.False(t, l.Blocked("10.0.0.1"))
}

func TestAuthLimiter_ClearResetsCount(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < authFailureLimit-1; i++ {
		l.RecordFailure("10.0.0.1")
	}

	l.Clear("10.0.0.1")

	assert.False(t, l.RecordFailure("10.0.0.1"), "a successful auth wipes accumulated failures")
}

func TestAuthLimiter_AddressesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < authFailureLimit; i++ {
		l.RecordFailure("10.0.0.1")
	}

	assert.True(t, l.Blocked("10.0.0.1"))
	assert.False(t, l.Blocked("10.0.0.2"))
}

func TestAuthLimiter_SweepBoundsTable(t *testing.T) {
	l, now := newTestLimiter()

	for i := 0; i < 50; i++ {
		l.RecordFailure(fmt.Sprintf("10.0.0.%d", i))
	}

	*now = now.Add(authFailureWindow + time.Second)

	// Any recording after the window sweeps the stale entries out.
	l.RecordFailure("10.0.1.1")

	l.mu.Lock()
	size := len(l.entries)
	l.mu.Unlock()

	assert.Equal(t, 1, size)
}

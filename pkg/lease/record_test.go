/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lease

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHasHolder(t *testing.T) {
	var nilRecord *Record
	assert.False(t, nilRecord.HasHolder())
	assert.False(t, (&Record{}).HasHolder())
	assert.True(t, (&Record{Holder: "pod-a"}).HasHolder())
}

func TestRecordHeldBy(t *testing.T) {
	r := &Record{Holder: "pod-a"}
	assert.True(t, r.HeldBy("pod-a"))
	assert.False(t, r.HeldBy("pod-b"))
	assert.False(t, (&Record{}).HeldBy(""))
}

func TestRecordExpiry(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	t.Run("live lease is not expired", func(t *testing.T) {
		r := &Record{
			Holder:    "pod-a",
			Duration:  15 * time.Second,
			RenewTime: now.Add(-5 * time.Second),
		}
		assert.False(t, r.Expired(now))
		assert.Equal(t, now.Add(10*time.Second), r.ExpiresAt())
	})

	t.Run("lease expires exactly at renewTime plus duration", func(t *testing.T) {
		r := &Record{
			Holder:    "pod-a",
			Duration:  15 * time.Second,
			RenewTime: now.Add(-15 * time.Second),
		}
		assert.True(t, r.Expired(now))
	})

	t.Run("record without holder counts as expired", func(t *testing.T) {
		r := &Record{Duration: 15 * time.Second, RenewTime: now}
		assert.True(t, r.Expired(now))
	})

	t.Run("record never renewed counts as expired", func(t *testing.T) {
		r := &Record{Holder: "pod-a", Duration: 15 * time.Second}
		assert.True(t, r.Expired(now))
		assert.True(t, r.ExpiresAt().IsZero())
	})
}

func TestRecordClone(t *testing.T) {
	var nilRecord *Record
	assert.Nil(t, nilRecord.Clone())

	r := &Record{Name: "conductor", Holder: "pod-a", Transitions: 3, Version: "41"}
	c := r.Clone()
	require.NotSame(t, r, c)
	assert.Equal(t, r, c)

	c.Holder = "pod-b"
	assert.Equal(t, "pod-a", r.Holder)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(ErrAlreadyExists))
	assert.False(t, IsTransient(ErrConflict))
	assert.False(t, IsTransient(ErrPermission))
	assert.False(t, IsTransient(ErrMalformedRecord))

	// Wrapping keeps the classification.
	wrapped := errors.Join(errors.New("get lease"), ErrConflict)
	assert.False(t, IsTransient(wrapped))

	assert.True(t, IsTransient(errors.New("connection refused")))
}

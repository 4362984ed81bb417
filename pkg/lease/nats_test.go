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
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSRecordCodecRoundTrip(t *testing.T) {
	store := &NATSStore{name: "conductor", namespace: "kube-system", key: "kube-system.conductor"}

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	in := &Record{
		Name:        "conductor",
		Namespace:   "kube-system",
		Holder:      "pod-a",
		Duration:    15 * time.Second,
		AcquireTime: now,
		RenewTime:   now.Add(5 * time.Second),
		Transitions: 4,
	}

	data, err := json.Marshal(encodeRecord(in))
	require.NoError(t, err)

	out, err := store.decode(data, 17)
	require.NoError(t, err)
	assert.Equal(t, "pod-a", out.Holder)
	assert.Equal(t, 15*time.Second, out.Duration)
	assert.True(t, out.AcquireTime.Equal(now))
	assert.True(t, out.RenewTime.Equal(now.Add(5*time.Second)))
	assert.Equal(t, int32(4), out.Transitions)
	assert.Equal(t, "17", out.Version)
	assert.Equal(t, "conductor", out.Name)
	assert.Equal(t, "kube-system", out.Namespace)
}

func TestNATSRecordDecodeMalformed(t *testing.T) {
	store := &NATSStore{name: "conductor", namespace: "kube-system"}

	t.Run("invalid json", func(t *testing.T) {
		_, err := store.decode([]byte("{not json"), 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("negative duration", func(t *testing.T) {
		_, err := store.decode([]byte(`{"leaseDurationSeconds":-5}`), 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("negative transitions", func(t *testing.T) {
		_, err := store.decode([]byte(`{"leaseTransitions":-1}`), 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})
}

func TestNATSStoreUpdateRejectsBadVersionToken(t *testing.T) {
	store := &NATSStore{name: "conductor", namespace: "kube-system", key: "kube-system.conductor"}

	_, err := store.Update(context.Background(), &Record{Holder: "pod-a", Version: "not-a-revision"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version token")
}

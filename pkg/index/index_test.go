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

package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

func newLease(namespace, name, holder string) *coordinationv1.Lease {
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity: ptr.To(holder),
		},
	}
}

func TestIndex_SyncsAndServesReads(t *testing.T) {
	client := fake.NewClientset(newLease("conductor-system", "rollout-controller", "node-a")) //nolint:staticcheck // Using NewClientset for testing
	idx := NewLeases(client, "conductor-system", 0, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Run(ctx)

	require.NoError(t, idx.WaitForSync(ctx))
	assert.True(t, idx.HasSynced())

	obj, ok, err := idx.Get("conductor-system", "rollout-controller")
	require.NoError(t, err)
	require.True(t, ok)
	l, isLease := obj.(*coordinationv1.Lease)
	require.True(t, isLease)
	assert.Equal(t, "node-a", *l.Spec.HolderIdentity)

	assert.Len(t, idx.List(), 1)

	_, ok, err = idx.Get("conductor-system", "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_DeliversApplyAndDeleteEvents(t *testing.T) {
	client := fake.NewClientset() //nolint:staticcheck // Using NewClientset for testing
	idx := NewLeases(client, "conductor-system", 0, zaptest.NewLogger(t).Sugar())

	applied := make(chan *coordinationv1.Lease, 8)
	deleted := make(chan *coordinationv1.Lease, 8)
	require.NoError(t, idx.AddHandler(HandlerFuncs{
		ApplyFunc: func(obj interface{}) {
			if l, ok := obj.(*coordinationv1.Lease); ok {
				applied <- l
			}
		},
		DeleteFunc: func(obj interface{}) {
			if l, ok := obj.(*coordinationv1.Lease); ok {
				deleted <- l
			}
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Run(ctx)
	require.NoError(t, idx.WaitForSync(ctx))

	_, err := client.CoordinationV1().Leases("conductor-system").Create(
		ctx, newLease("conductor-system", "rollout-controller", "node-a"), metav1.CreateOptions{})
	require.NoError(t, err)

	select {
	case l := <-applied:
		assert.Equal(t, "rollout-controller", l.Name)
		assert.Equal(t, "node-a", *l.Spec.HolderIdentity)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the apply event")
	}

	// A holder change arrives as another apply.
	updated := newLease("conductor-system", "rollout-controller", "node-b")
	_, err = client.CoordinationV1().Leases("conductor-system").Update(ctx, updated, metav1.UpdateOptions{})
	require.NoError(t, err)

	select {
	case l := <-applied:
		assert.Equal(t, "node-b", *l.Spec.HolderIdentity)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the update apply event")
	}

	err = client.CoordinationV1().Leases("conductor-system").Delete(ctx, "rollout-controller", metav1.DeleteOptions{})
	require.NoError(t, err)

	select {
	case l := <-deleted:
		assert.Equal(t, "rollout-controller", l.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delete event")
	}
}

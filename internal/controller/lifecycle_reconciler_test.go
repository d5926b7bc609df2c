package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/store"
	"go.wharfapis.com/wharf/internal/store/storetest"
	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

func newPolicyFixture(t *testing.T) *manager.Manager[v1alpha1.Policy, *v1alpha1.Policy] {
	t.Helper()
	st := storetest.New()
	policies := manager.New[v1alpha1.Policy](st, v1alpha1.PolicyTypeMeta)
	require.NoError(t, policies.EnsureDatabase(context.Background()))
	return policies
}

func validPolicy(name string) *v1alpha1.Policy {
	return v1alpha1.NewPolicy(name, v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
}

func TestLifecycleReconcilerStampsCreation(t *testing.T) {
	policies := newPolicyFixture(t)
	ctx := context.Background()
	r := NewLifecycleReconciler(policies, v1alpha1.ValidatePolicy)

	_, err := policies.Put(ctx, validPolicy("reader"))
	require.NoError(t, err)

	obj, _, err := policies.Get(ctx, "reader")
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, Request[v1alpha1.Policy, *v1alpha1.Policy]{Name: "reader", Object: obj})
	require.NoError(t, err)

	got, _, err := policies.Get(ctx, "reader")
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.CreatedAt)

	// Second pass writes nothing.
	rev1, _, err := policies.Revision(ctx, "reader")
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, Request[v1alpha1.Policy, *v1alpha1.Policy]{Name: "reader", Object: got})
	require.NoError(t, err)
	rev2, _, err := policies.Revision(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2)
}

func TestLifecycleReconcilerRejectsInvalidSpec(t *testing.T) {
	policies := newPolicyFixture(t)
	ctx := context.Background()
	r := NewLifecycleReconciler(policies, v1alpha1.ValidatePolicy)

	bad := v1alpha1.NewPolicy("broken")
	_, err := policies.Put(ctx, bad)
	require.NoError(t, err)

	obj, _, err := policies.Get(ctx, "broken")
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, Request[v1alpha1.Policy, *v1alpha1.Policy]{Name: "broken", Object: obj})
	require.Error(t, err)
	assert.True(t, store.IsInvalid(err))

	// The invalid document is left alone, not stamped.
	got, _, err := policies.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, got.Metadata.CreatedAt)
}

func TestLifecycleReconcilerFinalizesTombstone(t *testing.T) {
	policies := newPolicyFixture(t)
	ctx := context.Background()
	r := NewLifecycleReconciler(policies, v1alpha1.ValidatePolicy)

	p := validPolicy("reader")
	now := time.Now().UTC()
	p.Metadata.DeletedAt = &now
	_, err := policies.Put(ctx, p)
	require.NoError(t, err)

	obj, _, err := policies.Get(ctx, "reader")
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, Request[v1alpha1.Policy, *v1alpha1.Policy]{Name: "reader", Object: obj})
	require.NoError(t, err)

	_, found, err := policies.Get(ctx, "reader")
	require.NoError(t, err)
	assert.False(t, found)
}

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

func reconcileUser(t *testing.T, r *UserReconciler, users interface {
	Get(ctx context.Context, name string) (*v1alpha1.User, bool, error)
}, name string,
) {
	t.Helper()
	obj, _, err := users.Get(context.Background(), name)
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background(), Request[v1alpha1.User, *v1alpha1.User]{Name: name, Object: obj})
	require.NoError(t, err)
}

func TestUserReconcilerStampsCreationAndStatus(t *testing.T) {
	_, users := newUserFixture(t)
	ctx := context.Background()
	r := NewUserReconciler(users)

	user := v1alpha1.NewUser("alice")
	user.Spec.Enabled = true
	_, err := users.Put(ctx, user)
	require.NoError(t, err)

	reconcileUser(t, r, users, "alice")

	got, found, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got.Metadata.CreatedAt)
	require.NotNil(t, got.Status)
	assert.True(t, got.Status.Enabled)
}

func TestUserReconcilerIsIdempotent(t *testing.T) {
	_, users := newUserFixture(t)
	ctx := context.Background()
	r := NewUserReconciler(users)

	_, err := users.Put(ctx, v1alpha1.NewUser("alice"))
	require.NoError(t, err)
	reconcileUser(t, r, users, "alice")

	rev1, _, err := users.Revision(ctx, "alice")
	require.NoError(t, err)

	// A second pass over a converged user must not write.
	reconcileUser(t, r, users, "alice")
	rev2, _, err := users.Revision(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2)
}

func TestUserReconcilerConvergesStatusAfterSpecChange(t *testing.T) {
	_, users := newUserFixture(t)
	ctx := context.Background()
	r := NewUserReconciler(users)

	user := v1alpha1.NewUser("alice")
	user.Spec.Enabled = true
	_, err := users.Put(ctx, user)
	require.NoError(t, err)
	reconcileUser(t, r, users, "alice")

	got, _, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	got.Spec.Enabled = false
	_, err = users.Put(ctx, got)
	require.NoError(t, err)

	reconcileUser(t, r, users, "alice")
	got, _, err = users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, got.Status.Enabled)
}

func TestUserReconcilerPreservesCreationTimestamp(t *testing.T) {
	_, users := newUserFixture(t)
	ctx := context.Background()
	r := NewUserReconciler(users)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	user := v1alpha1.NewUser("alice")
	user.Metadata.CreatedAt = &created
	_, err := users.Put(ctx, user)
	require.NoError(t, err)

	reconcileUser(t, r, users, "alice")
	got, _, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.CreatedAt)
	assert.True(t, got.Metadata.CreatedAt.Equal(created))
}

func TestUserReconcilerFinalizesTombstone(t *testing.T) {
	_, users := newUserFixture(t)
	ctx := context.Background()
	r := NewUserReconciler(users)

	user := v1alpha1.NewUser("alice")
	now := time.Now().UTC()
	user.Metadata.DeletedAt = &now
	_, err := users.Put(ctx, user)
	require.NoError(t, err)

	reconcileUser(t, r, users, "alice")

	_, found, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUserReconcilerIgnoresMissingResource(t *testing.T) {
	_, users := newUserFixture(t)
	r := NewUserReconciler(users)

	res, err := r.Reconcile(context.Background(), Request[v1alpha1.User, *v1alpha1.User]{Name: "ghost"})
	require.NoError(t, err)
	assert.Zero(t, res)
}

package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

func TestEnforcerDeniesBeforeFirstLoad(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)

	err := e.Check(UserSubject("alice"), "get", userRef("bob"))
	require.Error(t, err)

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "user:alice", denied.Subject)
	assert.Equal(t, "get", denied.Action)
	assert.Equal(t, userRef("bob"), denied.Object)
}

func TestEnforcerRootShortCircuits(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)

	// Root is allowed even with no model loaded at all.
	assert.NoError(t, e.Check(RootSubject, "delete", userRef("anything")))
}

func TestEnforcerAllowsAfterReload(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	ctx := context.Background()

	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "alice-reads", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectUser, Name: "alice"})

	require.Error(t, e.Check(UserSubject("alice"), "get", userRef("bob")))
	require.NoError(t, e.Reload(ctx))
	assert.NoError(t, e.Check(UserSubject("alice"), "get", userRef("bob")))
	assert.Error(t, e.Check(UserSubject("alice"), "delete", userRef("bob")))
}

func TestEnforcerReloadSwapsAtomically(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	ctx := context.Background()

	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "alice-reads", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectUser, Name: "alice"})
	require.NoError(t, e.Reload(ctx))
	require.NoError(t, e.Check(UserSubject("alice"), "get", userRef("bob")))

	// Revoke and reload: the new snapshot applies to subsequent checks.
	require.NoError(t, f.policyAttachments.Delete(ctx, "alice-reads"))
	require.NoError(t, e.Reload(ctx))
	assert.Error(t, e.Check(UserSubject("alice"), "get", userRef("bob")))
}

func TestEnforcerRejectsNonUserSubjects(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	ctx := context.Background()

	// Role subjects exist only inside the model; a check on behalf of a
	// role is always denied.
	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "auditors-read", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectRole, Name: "auditors"})
	require.NoError(t, e.Reload(ctx))

	assert.Error(t, e.Check(RoleSubject("auditors"), "get", userRef("bob")))
}

package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

func startWiring(t *testing.T, f *fixture, e *Enforcer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := NewWiring(f.st, e, v1alpha1.GroupName,
		v1alpha1.PolicyTypeMeta,
		v1alpha1.PolicyAttachmentTypeMeta,
		v1alpha1.RoleAttachmentTypeMeta,
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("wiring did not stop")
		}
	})
}

func TestWiringReloadsOnPolicyChange(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	startWiring(t, f, e)

	// Grant lands after the wiring is already following the feed; the
	// enforcer must pick it up without intervention.
	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "alice-reads", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectUser, Name: "alice"})

	require.Eventually(t, func() bool {
		return e.Check(UserSubject("alice"), "get", userRef("bob")) == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWiringReloadsOnRevocation(t *testing.T) {
	f := newFixture(t)
	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "alice-reads", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectUser, Name: "alice"})

	e := NewEnforcer(f.loader)
	startWiring(t, f, e)

	require.Eventually(t, func() bool {
		return e.Check(UserSubject("alice"), "get", userRef("bob")) == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.policyAttachments.Delete(context.Background(), "alice-reads"))

	require.Eventually(t, func() bool {
		return e.Check(UserSubject("alice"), "get", userRef("bob")) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWiringIgnoresUnrelatedKinds(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	startWiring(t, f, e)

	// Wait for the initial load to land.
	require.Eventually(t, func() bool {
		return e.model.Load() != nil
	}, 5*time.Second, 10*time.Millisecond)

	// A user document in the same database is not an access-control kind
	// and must not grant anything.
	_, err := f.st.Put(context.Background(), v1alpha1.GroupName, "users:alice", map[string]any{
		"metadata": map[string]any{"name": "alice"},
	}, "")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Error(t, e.Check(UserSubject("alice"), "get", userRef("bob")))
}

func TestWiringSurvivesFeedFailure(t *testing.T) {
	f := newFixture(t)
	e := NewEnforcer(f.loader)
	startWiring(t, f, e)

	require.Eventually(t, func() bool {
		return e.Check(RootSubject, "get", userRef("x")) == nil
	}, time.Second, 10*time.Millisecond)

	f.st.BreakFeeds(v1alpha1.GroupName)

	f.putPolicy(t, "user-reader", v1alpha1.PolicyRule{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get"},
	})
	f.attachPolicy(t, "alice-reads", "user-reader", v1alpha1.Subject{Kind: v1alpha1.SubjectUser, Name: "alice"})

	require.Eventually(t, func() bool {
		return e.Check(UserSubject("alice"), "get", userRef("bob")) == nil
	}, 10*time.Second, 10*time.Millisecond)
}

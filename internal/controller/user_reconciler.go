package controller

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/store"
	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

// UserReconciler converges User resources: it stamps the creation timestamp
// on first sight, mirrors spec.enabled into status.enabled, and finalizes
// tombstoned users by removing their document.
type UserReconciler struct {
	users *manager.Manager[v1alpha1.User, *v1alpha1.User]
}

// NewUserReconciler creates the User reconciler.
func NewUserReconciler(users *manager.Manager[v1alpha1.User, *v1alpha1.User]) *UserReconciler {
	return &UserReconciler{users: users}
}

// Reconcile implements Reconciler. A converged user produces no write.
func (r *UserReconciler) Reconcile(ctx context.Context, req Request[v1alpha1.User, *v1alpha1.User]) (Result, error) {
	user := req.Object
	if user == nil {
		return Result{}, nil
	}

	if user.Metadata.Tombstoned() {
		klog.V(2).InfoS("Finalizing deleted user", "user", req.Name)
		if err := r.users.Delete(ctx, req.Name); err != nil && !store.IsNotFound(err) {
			return Result{}, err
		}
		return Result{}, nil
	}

	dirty := false
	if user.Metadata.CreatedAt == nil {
		now := time.Now().UTC()
		user.Metadata.CreatedAt = &now
		dirty = true
	}
	if user.Status == nil || user.Status.Enabled != user.Spec.Enabled {
		user.Status = &v1alpha1.UserStatus{Enabled: user.Spec.Enabled}
		dirty = true
	}
	if !dirty {
		return Result{}, nil
	}

	klog.V(2).InfoS("Converging user", "user", req.Name, "enabled", user.Spec.Enabled)
	_, err := r.users.Put(ctx, user)
	return Result{}, err
}

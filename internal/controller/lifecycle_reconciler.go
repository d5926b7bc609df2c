package controller

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/resource"
	"go.wharfapis.com/wharf/internal/store"
)

// LifecycleReconciler converges kinds whose reconciliation is purely
// lifecycle work: validate the spec, stamp the creation timestamp on first
// sight, and finalize tombstones by removing the document. The access-control
// kinds all reconcile this way; their semantic weight lives in the authorizer
// model, not in per-resource state.
type LifecycleReconciler[T any, PT resource.ObjectOf[T]] struct {
	mgr      *manager.Manager[T, PT]
	validate func(PT) error
}

// NewLifecycleReconciler creates a lifecycle reconciler. validate may be nil
// for kinds with nothing to check.
func NewLifecycleReconciler[T any, PT resource.ObjectOf[T]](mgr *manager.Manager[T, PT], validate func(PT) error) *LifecycleReconciler[T, PT] {
	return &LifecycleReconciler[T, PT]{mgr: mgr, validate: validate}
}

// Reconcile implements Reconciler.
func (r *LifecycleReconciler[T, PT]) Reconcile(ctx context.Context, req Request[T, PT]) (Result, error) {
	obj := req.Object
	if obj == nil {
		return Result{}, nil
	}
	kind := r.mgr.TypeMeta().Kind

	if obj.GetMetadata().Tombstoned() {
		klog.V(2).InfoS("Finalizing deleted resource", "kind", kind, "name", req.Name)
		if err := r.mgr.Delete(ctx, req.Name); err != nil && !store.IsNotFound(err) {
			return Result{}, err
		}
		return Result{}, nil
	}

	if r.validate != nil {
		if err := r.validate(obj); err != nil {
			return Result{}, store.NewError(store.KindInvalid, "reconcile", err)
		}
	}

	if obj.GetMetadata().CreatedAt != nil {
		return Result{}, nil
	}
	now := time.Now().UTC()
	obj.GetMetadata().CreatedAt = &now

	klog.V(2).InfoS("Stamping creation time", "kind", kind, "name", req.Name)
	_, err := r.mgr.Put(ctx, obj)
	return Result{}, err
}

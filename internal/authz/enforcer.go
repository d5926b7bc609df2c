package authz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/metrics"
)

// Enforcer answers allow/deny checks against the latest compiled model.
// Checks never block on reloads: they read an atomically swapped snapshot,
// so an in-flight check always sees one consistent model.
type Enforcer struct {
	loader *Loader
	model  atomic.Pointer[Model]

	// reloadMu serializes reloads so a burst of change notifications cannot
	// compile concurrently.
	reloadMu sync.Mutex
}

// NewEnforcer creates an enforcer that denies everything except root until
// the first successful Reload.
func NewEnforcer(loader *Loader) *Enforcer {
	e := &Enforcer{loader: loader}
	e.model.Store(EmptyModel())
	return e
}

// Check returns nil when the subject may perform the action on the object,
// or a *DeniedError naming all three otherwise. The root subject is allowed
// unconditionally.
func (e *Enforcer) Check(subject, action string, ref ObjectRef) error {
	if subject == RootSubject {
		metrics.CheckDecisionsTotal.WithLabelValues("allow").Inc()
		return nil
	}

	user, ok := userName(subject)
	if ok && e.model.Load().Allows(user, action, ref) {
		metrics.CheckDecisionsTotal.WithLabelValues("allow").Inc()
		return nil
	}

	metrics.CheckDecisionsTotal.WithLabelValues("deny").Inc()
	return &DeniedError{Subject: subject, Action: action, Object: ref}
}

// Reload compiles a fresh model and swaps it in. On failure the previous
// model stays active.
func (e *Enforcer) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	model, err := e.loader.Load(ctx)
	metrics.ACLReloadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ACLReloadsTotal.WithLabelValues("error").Inc()
		return err
	}

	e.model.Store(model)
	metrics.ACLReloadsTotal.WithLabelValues("success").Inc()
	klog.V(2).InfoS("Swapped access-control model", "elapsed", time.Since(start))
	return nil
}

// userName extracts the user from a "user:<name>" subject key. Checks are
// made on behalf of users; role subjects exist only inside the model.
func userName(subject string) (string, bool) {
	const prefix = "user:"
	if len(subject) > len(prefix) && subject[:len(prefix)] == prefix {
		return subject[len(prefix):], true
	}
	return "", false
}

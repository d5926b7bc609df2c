package controller

import (
	"errors"
	"time"
)

// ErrReconcilePanic is returned by a controller's Run when a reconciler
// panics. The process treats it as a crash and exits with a distinct code so
// supervisors can tell panics from ordinary fatal errors.
var ErrReconcilePanic = errors.New("reconciler panicked")

// Result tells the controller what to do after a successful reconcile.
// The zero value means done until the next change or resync.
type Result struct {
	// RequeueAfter schedules another reconcile of the same resource after
	// the given delay, independent of further changes.
	RequeueAfter time.Duration
}

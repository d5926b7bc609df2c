package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// shutdownGrace bounds how long the health server lingers after cancellation.
const shutdownGrace = 5 * time.Second

// Runnable is a long-running component the manager supervises. Run blocks
// until the context ends or the component fails.
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// ManagerOptions configures the runtime manager.
type ManagerOptions struct {
	// HealthAddr is the bind address for the health and metrics endpoints.
	// Empty disables the server.
	HealthAddr string
}

// Manager supervises the controllers and auxiliary loops of the process. All
// runnables share one lifetime: the first failure cancels the rest, and Run
// returns the first error observed.
type Manager struct {
	options   ManagerOptions
	runnables []Runnable

	mu      sync.RWMutex
	started bool
	healthy bool
}

// NewManager creates an empty manager.
func NewManager(options ManagerOptions) *Manager {
	return &Manager{options: options}
}

// Add registers a runnable. Must be called before Run.
func (m *Manager) Add(r Runnable) {
	m.runnables = append(m.runnables, r)
}

// Run starts every runnable and blocks until the context is cancelled or one
// of them fails.
func (m *Manager) Run(ctx context.Context) error {
	klog.InfoS("Starting runtime manager", "runnables", len(m.runnables))

	g, ctx := errgroup.WithContext(ctx)

	if m.options.HealthAddr != "" {
		g.Go(func() error {
			return m.runHealthServer(ctx)
		})
	}

	for _, r := range m.runnables {
		g.Go(func() error {
			klog.V(2).InfoS("Starting runnable", "name", r.Name())
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				klog.ErrorS(err, "Runnable failed", "name", r.Name())
				return err
			}
			klog.V(2).InfoS("Runnable stopped", "name", r.Name())
			return nil
		})
	}

	m.mu.Lock()
	m.started = true
	m.healthy = true
	m.mu.Unlock()

	err := g.Wait()

	m.mu.Lock()
	m.healthy = false
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	klog.Info("Runtime manager stopped")
	return nil
}

// runHealthServer serves liveness, readiness, and metrics.
func (m *Manager) runHealthServer(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		healthy := m.healthy
		m.mu.RUnlock()

		if healthy {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not healthy"))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		started := m.started
		m.mu.RUnlock()

		if started {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    m.options.HealthAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	klog.InfoS("Starting health and metrics server", "addr", m.options.HealthAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

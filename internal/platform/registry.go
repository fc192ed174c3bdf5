// Package platform holds the push-backend registry and the helpers shared by
// the individual backends under internal/platform/*.
package platform

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Registry maps backend names to configured adapters. It is populated once at
// startup; only backends whose credentials are present are registered.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]dispatch.Adapter
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]dispatch.Adapter),
		logger:   logger.With("component", "ProviderRegistry"),
	}
}

// Register adds an adapter keyed by its Name. A later registration with the
// same name replaces the earlier one.
func (r *Registry) Register(a dispatch.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	r.logger.Info("Push provider registered", "provider", a.Name())
}

// Names lists the registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named adapter. An unregistered name degrades to the
// logging no-op adapter so that unconfigured environments stay non-fatal.
func (r *Registry) Resolve(name string) dispatch.Adapter {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if ok {
		return a
	}
	r.logger.Warn("Push provider not configured, push delivery disabled",
		"provider", name, "err", dispatch.ErrProviderUnavailable, "available", r.Names())
	return NewNoop(name, r.logger)
}

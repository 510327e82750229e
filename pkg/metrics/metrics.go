// Package metrics exposes Prometheus instrumentation for the archiver.
//
// Metrics are opt-in: until InitRegistry is called every collector
// constructor returns nil, and the nil receivers are safe to call.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry   *prometheus.Registry
	registryMu sync.RWMutex
)

// InitRegistry creates the process-wide metrics registry. Call once at
// startup before building collectors. Safe to call again; later calls are
// no-ops.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// GetRegistry returns the process registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

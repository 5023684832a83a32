// Package metrics provides Prometheus metrics collection for the RPC engine.
//
// All metrics are optional - if not initialized, components use no-op
// implementations that have zero overhead. This allows the engine to run
// with or without metrics collection enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create a metrics instance for the transport
//	rpcMetrics := metrics.NewRPCMetrics()
//
//	// Or use nil for no-op behavior
//	srv := server.New(addr, maxMessageSize, dispatcher, nil) // No metrics
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry.
	// Protected by registryOnce for write-once, read-many pattern.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to
// call multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() returns nil and all metrics constructors
// return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil if metrics are
// disabled. Safe to call concurrently; the sync.Once in InitRegistry provides
// the happens-before relationship that makes the value visible.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

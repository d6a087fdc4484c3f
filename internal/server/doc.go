// Package server hosts the Fiber HTTP diagnostics service for the repository
// cache daemon. It exposes a narrow read-only surface under /-/ (run status,
// cache tree statistics, version) so operators can observe what the cache
// believes without touching the repository on disk. The validator run loop
// never depends on this package; it is wiring for humans, and keeps exports
// narrow so future admin surfaces can grow here without touching the core.
package server

// Package metrics exposes the runtime's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

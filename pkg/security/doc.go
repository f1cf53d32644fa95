// Package security provides validation, sanitization, and limits for the runtime.
//
// This package includes:
//   - Validation of signal names and sender pid allow-lists
//   - Sanitization of symbol names decoded from device records
//   - Clamping functions for poll intervals, worker groups and report sizes
//
// Most users should import the root package github.com/jdziat/accelrt
// which re-exports the limits.
package security

// Package core provides the fundamental types and interfaces for the accelrt package.
//
// This package contains:
//   - Identifier types for devices, queues, tasks and loaded binaries
//   - Op and Task, the unit of device work and its admitted form
//   - Report and Invocation, the items a dispatch worker delivers
//   - Event types for queue monitoring
//   - Signal and exception models with GORM annotations, and the store interfaces
//   - The error taxonomy shared by every package
//
// Most users should import the root package github.com/jdziat/accelrt
// instead of this package directly.
package core

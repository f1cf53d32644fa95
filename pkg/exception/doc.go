// Package exception decodes device exception records and dispatches them to
// registered callbacks.
//
// A Record carries the failing task's scalar ids plus a tagged Payload that
// is exactly one of CoreInfo, FusedInfo or InvalidInfo. The Registry is the
// process-wide callback table: one process callback, named module callbacks,
// and one callback per loaded binary handle. Tasks launched from a binary
// are registered as expected to fail with Expect, so a record whose payload
// does not name a binary can still be routed to it.
package exception

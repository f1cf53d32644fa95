// Package queue provides the Queue type, the host handle of one hardware
// execution queue (a stream).
//
// This package includes:
//   - Queue: FIFO submission, Synchronize, Query, Acknowledge and Destroy
//   - Option: configuration for priority, failure mode and sync timeout
//   - Router: where the queue's reports (callbacks, exceptions, chunks) go
//   - Event subscription for monitoring task outcomes
//
// Submit never blocks. Synchronize blocks until every previously submitted
// op has finished, and a successful Synchronize observes the effects of all
// of them.
//
// Most users should import the root package github.com/jdziat/accelrt
// which re-exports Queue and all option functions.
package queue

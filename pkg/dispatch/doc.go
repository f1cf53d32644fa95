// Package dispatch implements the callback dispatch loop bookkeeping:
// subscribing queues to dedicated workers, launching host callbacks as queue
// ops, and routing reports of unsubscribed queues to a fallback worker.
//
// A subscription moves through Subscribed, Unsubscribing and Unsubscribed.
// While subscribed, every report of the queue (callbacks, exception
// records, report chunks) is handled by the subscription's worker in
// arrival order.
package dispatch

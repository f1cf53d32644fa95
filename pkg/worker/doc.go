// Package worker provides the dispatch loop worker bound to one report
// channel.
//
// A Worker drains the reports a queue's device produces: host callbacks,
// encoded exception records and report chunks. Callbacks are invoked in
// arrival order, exceptions go to the exception registry, and chunks are
// reassembled into reports handed to the configured report handler. While
// idle the worker sweeps stale reassembly buffers.
//
// Workers are normally created by the dispatch package, one per subscribed
// queue plus one fallback for unsubscribed queues.
package worker

// Package sim is a software accelerator.
//
// Every opened queue gets one executor goroutine that runs task bodies in
// launch order. A body that returns a *core.Fault is reported the way
// hardware reports an execution error: an encoded exception record goes to
// the queue's sink ahead of the task's completion. Published reports are cut
// into wire chunks, optionally delivered with their non-start chunks
// shuffled.
package sim

// Package notify provides CrossContextSignal, a binary signal that queues
// record and wait on, shareable with other processes by name.
//
// Signals live in a Registry backed by a core.SignalStore. MemoryStore
// shares signals between registries of one process; the gorm store in
// package storage shares them between processes through one database.
//
//	reg := notify.NewRegistry(store)
//	sig, _ := reg.Create(core.SignalInterProcess)
//	_ = sig.SetAllowedSenders([]int{peerPID})
//	name, _ := sig.Export()
//	// in the peer process:
//	peer, err := peerReg.Import(name)
//
// Records coalesce: any number of records before a wait leave one pending
// token, and each wait consumes exactly one. A signal lives until the last
// holder in any process releases it.
package notify

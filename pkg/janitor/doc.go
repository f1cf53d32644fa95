// Package janitor periodically reclaims state left behind by processes
// that exited without releasing it: signal references held by dead pids,
// and reassembly buffers whose report never completed.
package janitor

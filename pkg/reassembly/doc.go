// Package reassembly rebuilds multi-chunk device reports.
//
// The device splits a report into fixed 64-byte frames. Each frame carries
// the report's composite key (task id, queue id, report type), start/middle/end
// markers and up to 48 payload bytes. The start frame declares the total chunk
// count; every other frame carries its sequence index in the same field.
//
// A Reassembler folds frames into a bounded Buffer per key. The start frame
// must arrive first; middles and the end frame may then arrive in any order
// and the assembled bytes are identical for every arrival order. A rejected
// frame never mutates an in-progress buffer, and a frame with no buffer never
// allocates one.
//
//	r := reassembly.New(reassembly.WithMaxInflight(64))
//	for _, frame := range frames {
//	    rep, err := r.FeedFrame(frame)
//	    if err != nil {
//	        continue // rejected, buffer untouched
//	    }
//	    if rep != nil {
//	        handle(rep.Data)
//	    }
//	}
package reassembly

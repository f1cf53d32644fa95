// Package container provides the small generic containers shared by the
// runtime: a growable ring Vector and a key-sorted SortedArray.
//
// Neither type is safe for concurrent use; owners guard them with their own
// locks.
package container

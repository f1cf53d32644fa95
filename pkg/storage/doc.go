// Package storage persists the cross-process signal name table and the
// device exception journal with GORM.
//
// GormSignalStore implements core.SignalStore and GormJournal implements
// core.ExceptionJournal. Every process that opens the same database, for
// example one sqlite file opened with OpenSQLite, sees the same signals.
// Transient database errors are retried with exponential backoff.
package storage

package core

import "context"

// SignalStore holds the name table shared by every process that can reach it.
type SignalStore interface {
	// Migrate prepares the backing tables, if any.
	Migrate(ctx context.Context) error

	// Create inserts a new entry. Returns ErrAlreadyExists on a name clash.
	Create(ctx context.Context, entry *SignalEntry) error
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, name string) (*SignalEntry, error)
	// Export makes the entry importable and replaces its sender allow-list.
	Export(ctx context.Context, name string, allowed []int) error

	// Acquire adds one reference held by pid.
	Acquire(ctx context.Context, name string, pid int) error
	// Release drops one reference held by pid and returns the references left
	// across all processes. The entry is removed when none are left.
	Release(ctx context.Context, name string, pid int) (int64, error)
	// Evict drops every reference held by pid, as Release does.
	Evict(ctx context.Context, name string, pid int) (int64, error)
	// Holders lists the processes holding the signal.
	Holders(ctx context.Context, name string) ([]SignalHolder, error)
	// Names lists every live signal.
	Names(ctx context.Context) ([]string, error)

	// Record sets the pending token. Records coalesce.
	Record(ctx context.Context, name string) error
	// Consume clears the pending token and reports whether one was set.
	Consume(ctx context.Context, name string) (bool, error)
}

// ExceptionJournal persists decoded device exceptions.
type ExceptionJournal interface {
	Migrate(ctx context.Context) error
	Append(ctx context.Context, entry *ExceptionEntry) error
	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]*ExceptionEntry, error)
}

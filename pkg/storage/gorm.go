package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/accelrt/pkg/core"
)

// Option configures the gorm stores.
type Option interface {
	apply(*options)
}

type options struct {
	retry RetryConfig
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithRetry sets how transient database errors are retried.
func WithRetry(cfg RetryConfig) Option {
	return optionFunc(func(o *options) {
		o.retry = cfg
	})
}

func buildOptions(opts []Option) options {
	o := options{retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// GormSignalStore implements core.SignalStore using GORM.
type GormSignalStore struct {
	db   *gorm.DB
	opts options
}

var _ core.SignalStore = (*GormSignalStore)(nil)

// NewGormSignalStore creates a signal store over db.
func NewGormSignalStore(db *gorm.DB, opts ...Option) *GormSignalStore {
	return &GormSignalStore{db: db, opts: buildOptions(opts)}
}

// DB returns the underlying database handle.
func (s *GormSignalStore) DB() *gorm.DB { return s.db }

func (s *GormSignalStore) retry(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, s.opts.retry, op)
}

// Migrate creates the signal and holder tables.
func (s *GormSignalStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.SignalEntry{}, &core.SignalHolder{})
}

// Create inserts a new signal entry.
func (s *GormSignalStore) Create(ctx context.Context, entry *core.SignalEntry) error {
	return s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&core.SignalEntry{}).Where("name = ?", entry.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("signal %q: %w", entry.Name, core.ErrAlreadyExists)
			}
			return tx.Create(entry).Error
		})
	})
}

// Get loads one signal entry.
func (s *GormSignalStore) Get(ctx context.Context, name string) (*core.SignalEntry, error) {
	var entry core.SignalEntry
	err := s.retry(ctx, func() error {
		return lookup(s.db.WithContext(ctx), name, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// lockEntry loads the entry and holds its row lock for the rest of the
// transaction. sqlite has no row locks; its transactions are serialized.
func lockEntry(tx *gorm.DB, name string, entry *core.SignalEntry) error {
	if tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return lookup(tx, name, entry)
}

func lookup(tx *gorm.DB, name string, entry *core.SignalEntry) error {
	err := tx.First(entry, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("signal %q: %w", name, core.ErrNotFound)
	}
	return err
}

// Export marks the entry importable and stores its allow-list.
func (s *GormSignalStore) Export(ctx context.Context, name string, allowed []int) error {
	return s.retry(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&core.SignalEntry{}).
			Where("name = ?", name).
			Updates(map[string]any{
				"exported":     true,
				"allowed_pids": core.JoinPIDs(allowed),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("signal %q: %w", name, core.ErrNotFound)
		}
		return nil
	})
}

// Acquire adds one reference held by pid.
func (s *GormSignalStore) Acquire(ctx context.Context, name string, pid int) error {
	return s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var entry core.SignalEntry
			if err := lockEntry(tx, name, &entry); err != nil {
				return err
			}
			result := tx.Model(&core.SignalHolder{}).
				Where("name = ? AND pid = ?", name, pid).
				Update("refs", gorm.Expr("refs + 1"))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				return nil
			}
			return tx.Create(&core.SignalHolder{Name: name, PID: pid, Refs: 1}).Error
		})
	})
}

// Release drops one reference held by pid.
func (s *GormSignalStore) Release(ctx context.Context, name string, pid int) (int64, error) {
	return s.drop(ctx, name, pid, false)
}

// Evict drops every reference held by pid.
func (s *GormSignalStore) Evict(ctx context.Context, name string, pid int) (int64, error) {
	return s.drop(ctx, name, pid, true)
}

func (s *GormSignalStore) drop(ctx context.Context, name string, pid int, all bool) (int64, error) {
	var left int64
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var entry core.SignalEntry
			if err := lockEntry(tx, name, &entry); err != nil {
				return err
			}

			holder := tx.Where("name = ? AND pid = ?", name, pid)
			if all {
				if err := holder.Delete(&core.SignalHolder{}).Error; err != nil {
					return err
				}
			} else {
				err := tx.Model(&core.SignalHolder{}).
					Where("name = ? AND pid = ? AND refs > 0", name, pid).
					Update("refs", gorm.Expr("refs - 1")).Error
				if err != nil {
					return err
				}
				err = tx.Where("name = ? AND pid = ? AND refs <= 0", name, pid).
					Delete(&core.SignalHolder{}).Error
				if err != nil {
					return err
				}
			}

			var total struct{ Refs int64 }
			err := tx.Model(&core.SignalHolder{}).
				Select("COALESCE(SUM(refs), 0) AS refs").
				Where("name = ?", name).
				Scan(&total).Error
			if err != nil {
				return err
			}
			left = total.Refs
			if left > 0 {
				return nil
			}
			if err := tx.Where("name = ?", name).Delete(&core.SignalHolder{}).Error; err != nil {
				return err
			}
			return tx.Where("name = ?", name).Delete(&core.SignalEntry{}).Error
		})
	})
	return left, err
}

// Holders lists the processes holding name, ordered by pid.
func (s *GormSignalStore) Holders(ctx context.Context, name string) ([]core.SignalHolder, error) {
	var holders []core.SignalHolder
	err := s.retry(ctx, func() error {
		var entry core.SignalEntry
		if err := lookup(s.db.WithContext(ctx), name, &entry); err != nil {
			return err
		}
		return s.db.WithContext(ctx).
			Where("name = ?", name).
			Order("pid ASC").
			Find(&holders).Error
	})
	return holders, err
}

// Names lists every live signal, sorted.
func (s *GormSignalStore) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).
			Model(&core.SignalEntry{}).
			Order("name ASC").
			Pluck("name", &names).Error
	})
	return names, err
}

// Record sets the pending token.
func (s *GormSignalStore) Record(ctx context.Context, name string) error {
	return s.retry(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&core.SignalEntry{}).
			Where("name = ?", name).
			Update("pending", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("signal %q: %w", name, core.ErrNotFound)
		}
		return nil
	})
}

// Consume clears the pending token. Only one of several concurrent
// consumers observes true.
func (s *GormSignalStore) Consume(ctx context.Context, name string) (bool, error) {
	var consumed bool
	err := s.retry(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&core.SignalEntry{}).
			Where("name = ? AND pending = ?", name, true).
			Update("pending", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			consumed = true
			return nil
		}
		var entry core.SignalEntry
		return lookup(s.db.WithContext(ctx), name, &entry)
	})
	return consumed, err
}

// GormJournal implements core.ExceptionJournal using GORM.
type GormJournal struct {
	db   *gorm.DB
	opts options
}

var _ core.ExceptionJournal = (*GormJournal)(nil)

// NewGormJournal creates an exception journal over db.
func NewGormJournal(db *gorm.DB, opts ...Option) *GormJournal {
	return &GormJournal{db: db, opts: buildOptions(opts)}
}

// Migrate creates the exception table.
func (j *GormJournal) Migrate(ctx context.Context) error {
	return j.db.WithContext(ctx).AutoMigrate(&core.ExceptionEntry{})
}

// Append stores one exception, assigning an id when it has none.
func (j *GormJournal) Append(ctx context.Context, entry *core.ExceptionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return retryWithBackoff(ctx, j.opts.retry, func() error {
		err := j.db.WithContext(ctx).Create(entry).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("exception %s: %w", entry.ID, core.ErrAlreadyExists)
		}
		return err
	})
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (j *GormJournal) List(ctx context.Context, limit int) ([]*core.ExceptionEntry, error) {
	var entries []*core.ExceptionEntry
	err := retryWithBackoff(ctx, j.opts.retry, func() error {
		q := j.db.WithContext(ctx).Order("created_at DESC, id DESC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&entries).Error
	})
	return entries, err
}

// ForTask returns the journaled exceptions raised by one task, oldest first.
func (j *GormJournal) ForTask(ctx context.Context, queue core.QueueID, task core.TaskID) ([]*core.ExceptionEntry, error) {
	var entries []*core.ExceptionEntry
	err := retryWithBackoff(ctx, j.opts.retry, func() error {
		return j.db.WithContext(ctx).
			Where("queue_id = ? AND task_id = ?", queue, task).
			Order("created_at ASC").
			Find(&entries).Error
	})
	return entries, err
}

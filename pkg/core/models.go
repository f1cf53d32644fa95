package core

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Signal flags.
const (
	// SignalInterProcess marks a signal that may be exported to other processes.
	SignalInterProcess uint32 = 1 << iota
)

// SignalEntry is the shared record of a named cross-context signal.
type SignalEntry struct {
	Name        string `gorm:"primaryKey;size:128"`
	OwnerPID    int    `gorm:"column:owner_pid;index"`
	Flags       uint32 `gorm:"not null;default:0"`
	AllowedPIDs string `gorm:"column:allowed_pids;size:1024"`
	Exported    bool   `gorm:"not null;default:false"`
	Pending     bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM.
func (SignalEntry) TableName() string {
	return "accelrt_signals"
}

// Allowed returns the sender allow-list. An empty list allows every pid.
func (e *SignalEntry) Allowed() []int {
	if e.AllowedPIDs == "" {
		return nil
	}
	parts := strings.Split(e.AllowedPIDs, ",")
	pids := make([]int, 0, len(parts))
	for _, p := range parts {
		if pid, err := strconv.Atoi(p); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

// SetAllowed replaces the allow-list.
func (e *SignalEntry) SetAllowed(pids []int) {
	e.AllowedPIDs = JoinPIDs(pids)
}

// Permits reports whether pid may import the signal.
func (e *SignalEntry) Permits(pid int) bool {
	if pid == e.OwnerPID {
		return true
	}
	allowed := e.Allowed()
	return len(allowed) == 0 || slices.Contains(allowed, pid)
}

// JoinPIDs renders a pid list in its stored form.
func JoinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}

// SignalHolder counts the references one process holds on a signal.
type SignalHolder struct {
	Name      string `gorm:"primaryKey;size:128"`
	PID       int    `gorm:"column:pid;primaryKey"`
	Refs      int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (SignalHolder) TableName() string {
	return "accelrt_signal_holders"
}

// ExceptionEntry is a journaled device exception.
type ExceptionEntry struct {
	ID       string `gorm:"primaryKey;size:36"`
	DeviceID int32  `gorm:"index"`
	QueueID  uint16 `gorm:"index:idx_exception_task"`
	TaskID   uint32 `gorm:"index:idx_exception_task"`
	ThreadID uint32
	Code     uint32
	Expand   uint32

	// BinaryHandle holds the handle bits; sqlite cannot store uint64 with the high bit set.
	BinaryHandle int64
	Symbol       string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName returns the table name for GORM.
func (ExceptionEntry) TableName() string {
	return "accelrt_exceptions"
}

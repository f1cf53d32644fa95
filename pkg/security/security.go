// Package security provides validation, sanitization, and limits for the runtime.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdziat/accelrt/pkg/core"
)

// Security limits and configuration
const (
	// MaxSignalNameLength is the maximum length for exported signal names
	MaxSignalNameLength = 128

	// MaxAllowedPIDs is the maximum size of a signal's sender allow-list
	MaxAllowedPIDs = 64

	// MaxSymbolLength is the maximum length kept for decoded kernel symbols
	MaxSymbolLength = 255

	// MaxWorkerGroups is the hard limit on concurrently subscribed queues
	MaxWorkerGroups = 128

	// MinPollInterval and MaxPollInterval bound worker and signal poll timers
	MinPollInterval = time.Millisecond
	MaxPollInterval = 10 * time.Second
)

// validSignalName matches alphanumeric, hyphens, underscores, and dots
var validSignalName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateSignalName validates an exported signal name
func ValidateSignalName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty signal name", core.ErrInvalidParameter)
	}
	if len(name) > MaxSignalNameLength {
		return fmt.Errorf("%w: signal name longer than %d", core.ErrInvalidParameter, MaxSignalNameLength)
	}
	if !validSignalName.MatchString(name) {
		return fmt.Errorf("%w: signal name %q", core.ErrInvalidParameter, name)
	}
	return nil
}

// ValidatePIDs validates a sender allow-list
func ValidatePIDs(pids []int) error {
	if len(pids) > MaxAllowedPIDs {
		return fmt.Errorf("%w: more than %d allowed pids", core.ErrResourceExhausted, MaxAllowedPIDs)
	}
	for _, pid := range pids {
		if pid <= 0 {
			return fmt.Errorf("%w: pid %d", core.ErrInvalidParameter, pid)
		}
	}
	return nil
}

// SanitizeSymbol strips control characters from a decoded symbol and truncates it
func SanitizeSymbol(sym string) string {
	if sym == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(sym))

	for _, r := range sym {
		if r >= 32 && r != 127 && r != utf8.RuneError {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxSymbolLength {
		runes := []rune(result)
		result = string(runes[:MaxSymbolLength-3]) + "..."
	}

	return result
}

// ClampPollInterval keeps a poll interval within limits
func ClampPollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// ClampWorkerGroups ensures the group count is within limits
func ClampWorkerGroups(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkerGroups {
		return MaxWorkerGroups
	}
	return n
}

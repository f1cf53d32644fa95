package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicksToDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), TicksToDuration(100, 0))
	assert.Equal(t, 1500*time.Millisecond, TicksToDuration(1500, 1000))
	assert.Equal(t, 2*time.Second+250*time.Microsecond, TicksToDuration(2_000_250, 1_000_000))
}

package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_ValueFields(t *testing.T) {
	c := NewClock("clock", time.Second)
	at := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

	v := c.valueAt(at)
	assert.Equal(t, "12:00:00", v.String())
	assert.Equal(t, "12", v.Field("h").String())
	assert.Equal(t, "00", v.Field("m").String())
	assert.Equal(t, "00", v.Field("s").String())
	assert.Equal(t, "05", v.Field("day").String())
	assert.Equal(t, "tuesday", v.Field("weekday").String())
}

func TestClock_MinuteGranularityText(t *testing.T) {
	c := NewClock("clock", time.Minute)
	at := time.Date(2024, time.March, 5, 9, 7, 31, 0, time.UTC)
	assert.Equal(t, "09:07", c.valueAt(at).String())
}

func TestClock_BoundaryAlignment(t *testing.T) {
	c := NewClock("clock", time.Minute)

	// 12:00:15.5 -> 44.5s to the next minute boundary, not a fixed 60s
	// period. Alignment is what keeps the display from drifting.
	c.now = func() time.Time {
		return time.Date(2024, time.March, 5, 12, 0, 15, 500e6, time.UTC)
	}
	assert.Equal(t, 44*time.Second+500*time.Millisecond, c.untilNextBoundary())

	// Exactly on a boundary: the full interval, never zero.
	c.now = func() time.Time {
		return time.Date(2024, time.March, 5, 12, 1, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Minute, c.untilNextBoundary())
}

func TestClock_DefaultInterval(t *testing.T) {
	c := NewClock("clock", 0)
	assert.Equal(t, time.Minute, c.interval)
}

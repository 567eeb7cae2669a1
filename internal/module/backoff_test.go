package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_StrictlyIncreasesToCap(t *testing.T) {
	b := &Backoff{Base: 250 * time.Millisecond, Cap: 2 * time.Second}

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, b.Next())
	}

	// Strictly increasing until the cap, then held at the cap.
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		2 * time.Second,
		2 * time.Second,
	}, delays)
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff()
	first := b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, first, b.Next())
}

func TestBackoff_Sustained(t *testing.T) {
	b := NewBackoff()
	assert.False(t, b.Sustained(time.Second))
	assert.True(t, b.Sustained(time.Minute))
}

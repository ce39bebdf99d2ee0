package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now(), "reading does not advance the clock")

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	select {
	case ts := <-c.After(time.Hour):
		assert.Equal(t, c.Now(), ts)
	default:
		t.Fatal("After must fire immediately")
	}
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterConsumesTokens(t *testing.T) {
	l := NewLimiter(time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("key-1", 3))
	}
	assert.False(t, l.Allow("key-1", 3))
	assert.Zero(t, l.Remaining("key-1"))

	// Other keys have their own buckets.
	assert.True(t, l.Allow("key-2", 3))
}

func TestLimiterRefillsToCapacity(t *testing.T) {
	l := NewLimiter(time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("key-1", 2))
	assert.True(t, l.Allow("key-1", 2))
	assert.False(t, l.Allow("key-1", 2))

	// No refill before the interval elapses.
	now = now.Add(30 * time.Second)
	assert.False(t, l.Allow("key-1", 2))

	now = now.Add(31 * time.Second)
	assert.True(t, l.Allow("key-1", 2))
	assert.Equal(t, 1, l.Remaining("key-1"))
}

func TestLimiterDefaultCapacity(t *testing.T) {
	l := NewLimiter(time.Minute)
	for i := 0; i < DefaultCapacity; i++ {
		assert.True(t, l.Allow("key-1", 0))
	}
	assert.False(t, l.Allow("key-1", 0))
}

func TestLimiterCapacityChangeAppliesOnRefill(t *testing.T) {
	l := NewLimiter(time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("key-1", 5))
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("key-1", 1))
	assert.False(t, l.Allow("key-1", 1))
}

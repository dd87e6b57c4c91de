package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReorderBuffer_FirstHoldNeverExpires(t *testing.T) {
	b := NewReorderBuffer(time.Minute)

	assert.False(t, b.Hold("evt-1"))
	assert.Equal(t, 1, b.Held())
}

func TestReorderBuffer_ExpiresAfterTimeout(t *testing.T) {
	b := NewReorderBuffer(time.Minute)

	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }

	assert.False(t, b.Hold("evt-1"))

	current = current.Add(30 * time.Second)
	assert.False(t, b.Hold("evt-1"))

	current = current.Add(31 * time.Second)
	assert.True(t, b.Hold("evt-1"))
}

func TestReorderBuffer_ResolveClearsTracking(t *testing.T) {
	b := NewReorderBuffer(time.Minute)

	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }

	b.Hold("evt-1")
	b.Resolve("evt-1")
	assert.Equal(t, 0, b.Held())

	// After resolve the clock starts over for the same event id.
	current = current.Add(2 * time.Minute)
	assert.False(t, b.Hold("evt-1"))
}

func TestReorderBuffer_TracksEventsIndependently(t *testing.T) {
	b := NewReorderBuffer(time.Minute)

	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }

	b.Hold("evt-1")
	current = current.Add(45 * time.Second)
	b.Hold("evt-2")
	current = current.Add(30 * time.Second)

	assert.True(t, b.Hold("evt-1"))
	assert.False(t, b.Hold("evt-2"))
}

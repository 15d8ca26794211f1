package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBucket_Deterministic(t *testing.T) {
	m := NewManager(16)

	first := m.EventBucket("evt-12345")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, m.EventBucket("evt-12345"))
	}
}

func TestEventBucket_Range(t *testing.T) {
	m := NewManager(8)

	for _, key := range []string{"a", "b", "c", "evt-1", "evt-2", "665f1c2e9b", ""} {
		b := m.EventBucket(key)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 8)
	}
}

func TestDateBucket_UTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 4, 25, 23, 30, 0, 0, loc)

	assert.Equal(t, "2024-04-26", DateBucket(ts))
}

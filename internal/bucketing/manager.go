package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager assigns events to a fixed number of buckets so that a single
// ingest day never concentrates on one storage partition.
type Manager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(eventBuckets int) *Manager {
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	m := &Manager{eventBuckets: eventBuckets}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// EventBucket returns a consistent bucket in [0, eventBuckets) for a key.
func (m *Manager) EventBucket(key string) int {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(m.eventBuckets))
}

// DateBucket renders the UTC calendar day of a timestamp, the partition key
// format used by the audit store.
func DateBucket(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

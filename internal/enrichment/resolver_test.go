package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"event-pipeline/internal/model"
	"event-pipeline/internal/repository/postgres"
)

type fakeCache struct {
	devices map[string]string
	users   map[string]string

	getErr error
	setErr error

	deviceGets int
	deviceSets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		devices: make(map[string]string),
		users:   make(map[string]string),
	}
}

func (f *fakeCache) GetDeviceID(_ context.Context, tool model.ToolType, id string) (string, bool, error) {
	f.deviceGets++
	if f.getErr != nil {
		return "", false, f.getErr
	}
	d, ok := f.devices[string(tool)+":"+id]
	return d, ok, nil
}

func (f *fakeCache) SetDeviceID(_ context.Context, tool model.ToolType, id, deviceID string) error {
	f.deviceSets++
	if f.setErr != nil {
		return f.setErr
	}
	f.devices[string(tool)+":"+id] = deviceID
	return nil
}

func (f *fakeCache) GetUserID(_ context.Context, username string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	u, ok := f.users[username]
	return u, ok, nil
}

func (f *fakeCache) SetUserID(_ context.Context, username, userID string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.users[username] = userID
	return nil
}

type fakeStore struct {
	devices map[string]string
	users   map[string]string
	err     error

	deviceLookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices: make(map[string]string),
		users:   make(map[string]string),
	}
}

func (f *fakeStore) DeviceIDForAgent(_ context.Context, tool model.ToolType, id string) (string, error) {
	f.deviceLookups++
	if f.err != nil {
		return "", f.err
	}
	d, ok := f.devices[string(tool)+":"+id]
	if !ok {
		return "", postgres.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) UserIDForUsername(_ context.Context, username string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	u, ok := f.users[username]
	if !ok {
		return "", postgres.ErrNotFound
	}
	return u, nil
}

func TestResolveDeviceID_CacheHitSkipsStore(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	cache.devices["mdm:A123"] = "D1"

	r := NewResolver(cache, store, time.Second)

	deviceID, ok := r.ResolveDeviceID(context.Background(), model.ToolMDM, "A123")
	assert.True(t, ok)
	assert.Equal(t, "D1", deviceID)
	assert.Zero(t, store.deviceLookups, "cache hit must not touch the authoritative store")
}

func TestResolveDeviceID_MissPopulatesCache(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	store.devices["mdm:A123"] = "D1"

	r := NewResolver(cache, store, time.Second)

	deviceID, ok := r.ResolveDeviceID(context.Background(), model.ToolMDM, "A123")
	assert.True(t, ok)
	assert.Equal(t, "D1", deviceID)
	assert.Equal(t, 1, store.deviceLookups)

	// Second resolution is served from the cache.
	deviceID, ok = r.ResolveDeviceID(context.Background(), model.ToolMDM, "A123")
	assert.True(t, ok)
	assert.Equal(t, "D1", deviceID)
	assert.Equal(t, 1, store.deviceLookups)
}

func TestResolveDeviceID_FailOpen(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeCache, *fakeStore)
	}{
		{
			name:  "total miss",
			setup: func(c *fakeCache, s *fakeStore) {},
		},
		{
			name: "store error",
			setup: func(c *fakeCache, s *fakeStore) {
				s.err = errors.New("connection refused")
			},
		},
		{
			name: "cache error and store miss",
			setup: func(c *fakeCache, s *fakeStore) {
				c.getErr = errors.New("redis timeout")
			},
		},
		{
			name: "store timeout",
			setup: func(c *fakeCache, s *fakeStore) {
				s.err = context.DeadlineExceeded
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newFakeCache()
			store := newFakeStore()
			tt.setup(cache, store)

			r := NewResolver(cache, store, time.Second)
			deviceID, ok := r.ResolveDeviceID(context.Background(), model.ToolRMM, "uid-1")
			assert.False(t, ok)
			assert.Empty(t, deviceID)
		})
	}
}

func TestResolveDeviceID_CacheErrorFallsThroughToStore(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	cache.getErr = errors.New("redis down")
	store.devices["console:g-1"] = "D9"

	r := NewResolver(cache, store, time.Second)

	deviceID, ok := r.ResolveDeviceID(context.Background(), model.ToolConsole, "g-1")
	assert.True(t, ok)
	assert.Equal(t, "D9", deviceID)
}

func TestResolveDeviceID_EmptyInput(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	r := NewResolver(cache, store, time.Second)

	_, ok := r.ResolveDeviceID(context.Background(), model.ToolMDM, "")
	assert.False(t, ok)
	assert.Zero(t, cache.deviceGets)
	assert.Zero(t, store.deviceLookups)
}

func TestResolveUserID(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	store.users["jsmith"] = "U7"

	r := NewResolver(cache, store, time.Second)

	userID, ok := r.ResolveUserID(context.Background(), "jsmith")
	assert.True(t, ok)
	assert.Equal(t, "U7", userID)

	// Now cached.
	assert.Equal(t, "U7", cache.users["jsmith"])

	_, ok = r.ResolveUserID(context.Background(), "nobody")
	assert.False(t, ok)

	_, ok = r.ResolveUserID(context.Background(), "")
	assert.False(t, ok)
}

func TestResolveDeviceID_CachePopulateFailureStillResolves(t *testing.T) {
	cache := newFakeCache()
	store := newFakeStore()
	cache.setErr = errors.New("redis write failed")
	store.devices["mdm:A1"] = "D1"

	r := NewResolver(cache, store, time.Second)

	deviceID, ok := r.ResolveDeviceID(context.Background(), model.ToolMDM, "A1")
	assert.True(t, ok)
	assert.Equal(t, "D1", deviceID)
}

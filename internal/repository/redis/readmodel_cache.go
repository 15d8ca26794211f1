package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/client"
	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

const (
	deviceProjectionPrefix = "device_projection:"
	tagProjectionPrefix    = "tag_projection:"
	deviceTagsPrefix       = "device_tags:" // set of tag ids per device
	tagDevicesPrefix       = "tag_devices:" // set of device ids per tag
)

// ReadModelCache holds the denormalized device/tag read model. Every key
// carries a TTL; the authoritative store can always rebuild an entry.
type ReadModelCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewReadModelCache(redisClient *client.RedisClient, ttl time.Duration) *ReadModelCache {
	return &ReadModelCache{client: redisClient, ttl: ttl}
}

// -------------------- device projections --------------------

func (c *ReadModelCache) SetDeviceProjection(ctx context.Context, p *model.DeviceProjection) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal device projection: %w", err)
	}

	key := deviceProjectionPrefix + p.DeviceID
	if err := c.client.Set(ctx, key, string(data), c.ttl); err != nil {
		util.Error("Failed to cache device projection",
			zap.String("device_id", p.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to cache device projection: %w", err)
	}

	util.Debug("Device projection cached", zap.String("device_id", p.DeviceID))
	return nil
}

func (c *ReadModelCache) GetDeviceProjection(ctx context.Context, deviceID string) (*model.DeviceProjection, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, deviceProjectionPrefix+deviceID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read device projection: %w", err)
	}

	var p model.DeviceProjection
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal device projection: %w", err)
	}
	return &p, true, nil
}

func (c *ReadModelCache) DeleteDeviceProjection(ctx context.Context, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, deviceProjectionPrefix+deviceID); err != nil {
		return fmt.Errorf("failed to evict device projection: %w", err)
	}
	util.Debug("Device projection evicted", zap.String("device_id", deviceID))
	return nil
}

// -------------------- tag projections --------------------

func (c *ReadModelCache) SetTagProjection(ctx context.Context, p *model.TagProjection) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal tag projection: %w", err)
	}

	if err := c.client.Set(ctx, tagProjectionPrefix+p.TagID, string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to cache tag projection: %w", err)
	}
	return nil
}

func (c *ReadModelCache) GetTagProjection(ctx context.Context, tagID string) (*model.TagProjection, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, tagProjectionPrefix+tagID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read tag projection: %w", err)
	}

	var p model.TagProjection
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal tag projection: %w", err)
	}
	return &p, true, nil
}

func (c *ReadModelCache) DeleteTagProjection(ctx context.Context, tagID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, tagProjectionPrefix+tagID); err != nil {
		return fmt.Errorf("failed to evict tag projection: %w", err)
	}
	return nil
}

// -------------------- tag associations --------------------

// AddAssociation records a device/tag association in both direction sets.
// Pipelined so both sides land together under normal operation; writes are
// idempotent so a torn pipeline on retry is harmless.
func (c *ReadModelCache) AddAssociation(ctx context.Context, assoc model.TagAssociation) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	deviceKey := deviceTagsPrefix + assoc.DeviceID
	tagKey := tagDevicesPrefix + assoc.TagID

	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, deviceKey, assoc.TagID)
	pipe.Expire(ctx, deviceKey, c.ttl)
	pipe.SAdd(ctx, tagKey, assoc.DeviceID)
	pipe.Expire(ctx, tagKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store tag association",
			zap.String("device_id", assoc.DeviceID),
			zap.String("tag_id", assoc.TagID),
			zap.Error(err))
		return fmt.Errorf("failed to store tag association: %w", err)
	}

	util.Debug("Tag association stored",
		zap.String("device_id", assoc.DeviceID),
		zap.String("tag_id", assoc.TagID))
	return nil
}

func (c *ReadModelCache) RemoveAssociation(ctx context.Context, assoc model.TagAssociation) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.SRem(ctx, deviceTagsPrefix+assoc.DeviceID, assoc.TagID)
	pipe.SRem(ctx, tagDevicesPrefix+assoc.TagID, assoc.DeviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove tag association: %w", err)
	}
	return nil
}

// TagsForDevice returns the tag ids associated with a device in the read
// model. An empty result may mean "no tags" or an expired set; the caller
// decides whether to consult the authoritative store.
func (c *ReadModelCache) TagsForDevice(ctx context.Context, deviceID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return c.client.SMembers(ctx, deviceTagsPrefix+deviceID)
}

func (c *ReadModelCache) DevicesForTag(ctx context.Context, tagID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return c.client.SMembers(ctx, tagDevicesPrefix+tagID)
}

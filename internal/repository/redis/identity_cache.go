package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/client"
	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

const (
	agentDevicePrefix = "agent_device:"
	userIdentPrefix   = "user_ident:"
)

// IdentityCache memoizes authoritative identity lookups with a TTL. It is an
// optimization only; a miss here always falls through to the association
// store, never to a failure.
type IdentityCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewIdentityCache(redisClient *client.RedisClient, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: redisClient, ttl: ttl}
}

func deviceKey(tool model.ToolType, agentOrHostID string) string {
	return fmt.Sprintf("%s%s:%s", agentDevicePrefix, tool, agentOrHostID)
}

// GetDeviceID returns the cached device id for a tool-native agent/host id.
// The second return reports whether the entry existed; a hit refreshes the TTL.
func (c *IdentityCache) GetDeviceID(ctx context.Context, tool model.ToolType, agentOrHostID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := deviceKey(tool, agentOrHostID)
	deviceID, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read identity cache: %w", err)
	}

	if err := c.client.Expire(ctx, key, c.ttl); err != nil {
		util.Warn("Failed to refresh identity cache TTL",
			zap.String("key", key),
			zap.Error(err))
	}

	return deviceID, true, nil
}

func (c *IdentityCache) SetDeviceID(ctx context.Context, tool model.ToolType, agentOrHostID, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := deviceKey(tool, agentOrHostID)
	if err := c.client.Set(ctx, key, deviceID, c.ttl); err != nil {
		return fmt.Errorf("failed to write identity cache: %w", err)
	}

	util.Debug("Identity association cached",
		zap.String("tool", string(tool)),
		zap.String("agent_or_host_id", agentOrHostID),
		zap.String("device_id", deviceID))

	return nil
}

func (c *IdentityCache) GetUserID(ctx context.Context, username string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := userIdentPrefix + username
	userID, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read user identity cache: %w", err)
	}

	if err := c.client.Expire(ctx, key, c.ttl); err != nil {
		util.Warn("Failed to refresh user identity cache TTL",
			zap.String("key", key),
			zap.Error(err))
	}

	return userID, true, nil
}

func (c *IdentityCache) SetUserID(ctx context.Context, username, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, userIdentPrefix+username, userID, c.ttl); err != nil {
		return fmt.Errorf("failed to write user identity cache: %w", err)
	}
	return nil
}

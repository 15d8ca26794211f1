package enrichment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/model"
	"event-pipeline/internal/repository/postgres"
	"event-pipeline/internal/util"
)

// IdentityCache is the TTL cache consulted before the authoritative store.
type IdentityCache interface {
	GetDeviceID(ctx context.Context, tool model.ToolType, agentOrHostID string) (string, bool, error)
	SetDeviceID(ctx context.Context, tool model.ToolType, agentOrHostID, deviceID string) error
	GetUserID(ctx context.Context, username string) (string, bool, error)
	SetUserID(ctx context.Context, username, userID string) error
}

// AssociationStore is the authoritative identity source. Lookups return
// postgres.ErrNotFound when no association exists.
type AssociationStore interface {
	DeviceIDForAgent(ctx context.Context, tool model.ToolType, agentOrHostID string) (string, error)
	UserIDForUsername(ctx context.Context, username string) (string, error)
}

// Resolver resolves tool-native identifiers to platform identities.
//
// Every failure path collapses to "absent": cache errors, store errors,
// timeouts and plain misses all return ("", false). An event with unresolved
// identity is still useful for audit, so enrichment never fails a message.
type Resolver struct {
	cache         IdentityCache
	store         AssociationStore
	lookupTimeout time.Duration
}

func NewResolver(cache IdentityCache, store AssociationStore, lookupTimeout time.Duration) *Resolver {
	return &Resolver{
		cache:         cache,
		store:         store,
		lookupTimeout: lookupTimeout,
	}
}

// ResolveDeviceID maps a tool-native agent/host id to the platform device id.
func (r *Resolver) ResolveDeviceID(ctx context.Context, tool model.ToolType, agentOrHostID string) (string, bool) {
	if agentOrHostID == "" {
		return "", false
	}

	deviceID, hit, err := r.cache.GetDeviceID(ctx, tool, agentOrHostID)
	if err != nil {
		util.Warn("Identity cache read failed, falling through to store",
			zap.String("tool", string(tool)),
			zap.String("agent_or_host_id", agentOrHostID),
			zap.Error(err))
	} else if hit {
		return deviceID, true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	deviceID, err = r.store.DeviceIDForAgent(lookupCtx, tool, agentOrHostID)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			util.Warn("Authoritative device lookup failed",
				zap.String("tool", string(tool)),
				zap.String("agent_or_host_id", agentOrHostID),
				zap.Error(err))
		}
		return "", false
	}

	if err := r.cache.SetDeviceID(ctx, tool, agentOrHostID, deviceID); err != nil {
		util.Warn("Failed to populate identity cache",
			zap.String("agent_or_host_id", agentOrHostID),
			zap.Error(err))
	}

	return deviceID, true
}

// ResolveUserID maps an actor username to the platform user id.
func (r *Resolver) ResolveUserID(ctx context.Context, username string) (string, bool) {
	if username == "" {
		return "", false
	}

	userID, hit, err := r.cache.GetUserID(ctx, username)
	if err != nil {
		util.Warn("User identity cache read failed, falling through to store",
			zap.String("username", username),
			zap.Error(err))
	} else if hit {
		return userID, true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	userID, err = r.store.UserIDForUsername(lookupCtx, username)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			util.Warn("Authoritative user lookup failed",
				zap.String("username", username),
				zap.Error(err))
		}
		return "", false
	}

	if err := r.cache.SetUserID(ctx, username, userID); err != nil {
		util.Warn("Failed to populate user identity cache",
			zap.String("username", username),
			zap.Error(err))
	}

	return userID, true
}

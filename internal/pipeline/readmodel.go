package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/cdc"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/repository/postgres"
	"event-pipeline/internal/util"
)

// Internal-entity tables this flow consumes.
const (
	tableDevices    = "devices"
	tableTags       = "tags"
	tableDeviceTags = "device_tags"
)

type readModelStore interface {
	SetDeviceProjection(ctx context.Context, p *model.DeviceProjection) error
	GetDeviceProjection(ctx context.Context, deviceID string) (*model.DeviceProjection, bool, error)
	DeleteDeviceProjection(ctx context.Context, deviceID string) error
	SetTagProjection(ctx context.Context, p *model.TagProjection) error
	GetTagProjection(ctx context.Context, tagID string) (*model.TagProjection, bool, error)
	DeleteTagProjection(ctx context.Context, tagID string) error
	AddAssociation(ctx context.Context, assoc model.TagAssociation) error
	RemoveAssociation(ctx context.Context, assoc model.TagAssociation) error
	TagsForDevice(ctx context.Context, deviceID string) ([]string, error)
	DevicesForTag(ctx context.Context, tagID string) ([]string, error)
}

// tagAssociationSource is the authoritative fallback when the read model has
// no cached associations for an entity.
type tagAssociationSource interface {
	TagIDsForDevice(ctx context.Context, deviceID string) ([]string, error)
	DeviceIDsForTag(ctx context.Context, tagID string) ([]string, error)
	TagName(ctx context.Context, tagID string) (string, error)
}

// ReadModelSync projects the platform's own device and tag tables into the
// cache-backed read model and republishes denormalized device-with-tags
// projections to the analytics feed.
type ReadModelSync struct {
	cache          readModelStore
	store          tagAssociationSource
	producer       messageProducer
	analyticsTopic string
	publishTimeout time.Duration
}

func NewReadModelSync(cache readModelStore, store tagAssociationSource, producer messageProducer, analyticsTopic string, publishTimeout time.Duration) *ReadModelSync {
	return &ReadModelSync{
		cache:          cache,
		store:          store,
		producer:       producer,
		analyticsTopic: analyticsTopic,
		publishTimeout: publishTimeout,
	}
}

// Handle applies one internal-entity CDC envelope. Only analytics-feed
// publish failures are returned; cache failures degrade to a rebuildable
// stale read model and are logged instead.
func (s *ReadModelSync) Handle(ctx context.Context, env *model.ChangeEnvelope) error {
	switch env.SourceTable {
	case tableDevices:
		return s.handleDevice(ctx, env)
	case tableTags:
		return s.handleTag(ctx, env)
	case tableDeviceTags:
		return s.handleAssociation(ctx, env)
	default:
		util.Debug("Ignoring CDC for unhandled internal table",
			zap.String("table", env.SourceTable))
		return nil
	}
}

func (s *ReadModelSync) handleDevice(ctx context.Context, env *model.ChangeEnvelope) error {
	switch env.Operation {
	case model.OpCreate, model.OpRead, model.OpUpdate:
		deviceID := fieldString(env.After, "id")
		if deviceID == "" {
			util.Warn("Device change without id, skipping")
			return nil
		}

		tags := s.tagNamesForDevice(ctx, deviceID)
		projection := &model.DeviceProjection{
			DeviceID:  deviceID,
			Name:      fieldString(env.After, "name", "hostname"),
			Platform:  fieldString(env.After, "platform"),
			Tags:      tags,
			UpdatedAt: env.SourceTimestamp,
		}

		if err := s.cache.SetDeviceProjection(ctx, projection); err != nil {
			util.Error("Failed to cache device projection", zap.Error(err))
		}
		return s.publishProjection(ctx, projection)

	case model.OpDelete:
		deviceID := fieldString(env.Before, "id")
		if deviceID == "" {
			return nil
		}
		if err := s.cache.DeleteDeviceProjection(ctx, deviceID); err != nil {
			util.Error("Failed to evict device projection",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
		return nil

	default:
		return nil
	}
}

func (s *ReadModelSync) handleAssociation(ctx context.Context, env *model.ChangeEnvelope) error {
	switch env.Operation {
	case model.OpCreate, model.OpRead, model.OpUpdate:
		assoc := model.TagAssociation{
			DeviceID: fieldString(env.After, "device_id"),
			TagID:    fieldString(env.After, "tag_id"),
		}
		if assoc.DeviceID == "" || assoc.TagID == "" {
			util.Warn("Tag association change missing identifiers, skipping")
			return nil
		}
		if err := s.cache.AddAssociation(ctx, assoc); err != nil {
			util.Error("Failed to store association in read model", zap.Error(err))
		}
		return s.republishDevice(ctx, assoc.DeviceID, env.SourceTimestamp)

	case model.OpDelete:
		assoc := model.TagAssociation{
			DeviceID: fieldString(env.Before, "device_id"),
			TagID:    fieldString(env.Before, "tag_id"),
		}
		if assoc.DeviceID == "" || assoc.TagID == "" {
			return nil
		}
		if err := s.cache.RemoveAssociation(ctx, assoc); err != nil {
			util.Error("Failed to remove association from read model", zap.Error(err))
		}
		return s.republishDevice(ctx, assoc.DeviceID, env.SourceTimestamp)

	default:
		return nil
	}
}

func (s *ReadModelSync) handleTag(ctx context.Context, env *model.ChangeEnvelope) error {
	switch env.Operation {
	case model.OpCreate, model.OpRead:
		tag := tagFromState(env.After)
		if tag == nil {
			return nil
		}
		if err := s.cache.SetTagProjection(ctx, tag); err != nil {
			util.Error("Failed to cache tag projection", zap.Error(err))
		}
		return nil

	case model.OpUpdate:
		return s.handleTagUpdate(ctx, env)

	case model.OpDelete:
		tagID := fieldString(env.Before, "id")
		if tagID == "" {
			return nil
		}
		if err := s.cache.DeleteTagProjection(ctx, tagID); err != nil {
			util.Error("Failed to evict tag projection", zap.Error(err))
		}
		return nil

	default:
		return nil
	}
}

// handleTagUpdate refreshes the tag projection and, when the name changed,
// republishes every associated device so the rename is visible without
// waiting for each device's own next change event.
func (s *ReadModelSync) handleTagUpdate(ctx context.Context, env *model.ChangeEnvelope) error {
	tag := tagFromState(env.After)
	if tag == nil {
		return nil
	}

	previousName := fieldString(env.Before, "name")
	if previousName == "" {
		// Some WAL configurations omit the before image; fall back to the
		// cached projection captured before this update.
		if cached, found, err := s.cache.GetTagProjection(ctx, tag.TagID); err == nil && found {
			previousName = cached.Name
		}
	}

	if err := s.cache.SetTagProjection(ctx, tag); err != nil {
		util.Error("Failed to refresh tag projection", zap.Error(err))
	}

	if previousName == tag.Name {
		return nil
	}

	deviceIDs, err := s.cache.DevicesForTag(ctx, tag.TagID)
	if err != nil || len(deviceIDs) == 0 {
		deviceIDs, err = s.store.DeviceIDsForTag(ctx, tag.TagID)
		if err != nil {
			util.Error("Failed to resolve devices for renamed tag",
				zap.String("tag_id", tag.TagID),
				zap.Error(err))
			return nil
		}
	}

	util.Info("Tag renamed, republishing device projections",
		zap.String("tag_id", tag.TagID),
		zap.String("old_name", previousName),
		zap.String("new_name", tag.Name),
		zap.Int("device_count", len(deviceIDs)))

	for _, deviceID := range deviceIDs {
		if err := s.republishDevice(ctx, deviceID, env.SourceTimestamp); err != nil {
			return err
		}
	}
	return nil
}

// republishDevice rebuilds the denormalized projection for one device and
// publishes it to the analytics feed.
func (s *ReadModelSync) republishDevice(ctx context.Context, deviceID string, updatedAt time.Time) error {
	projection := &model.DeviceProjection{
		DeviceID:  deviceID,
		Tags:      s.tagNamesForDevice(ctx, deviceID),
		UpdatedAt: updatedAt,
	}

	// Carry forward descriptive fields from the cached projection; the
	// device row itself is not part of this envelope.
	if cached, found, err := s.cache.GetDeviceProjection(ctx, deviceID); err == nil && found {
		projection.Name = cached.Name
		projection.Platform = cached.Platform
	}

	if err := s.cache.SetDeviceProjection(ctx, projection); err != nil {
		util.Error("Failed to cache rebuilt device projection",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	return s.publishProjection(ctx, projection)
}

func (s *ReadModelSync) publishProjection(ctx context.Context, p *model.DeviceProjection) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal projection: %v", ErrSinkDelivery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	if err := s.producer.ProduceMessage(ctx, s.analyticsTopic, []byte(p.DeviceID), value, nil); err != nil {
		return fmt.Errorf("%w: analytics feed: %v", ErrSinkDelivery, err)
	}

	metrics.ProjectionsRepublished.Inc()
	return nil
}

// tagNamesForDevice resolves the device's tag ids to names, consulting the
// read model first and the authoritative store when the read model is cold.
// Resolution is best effort; unresolvable tags are omitted.
func (s *ReadModelSync) tagNamesForDevice(ctx context.Context, deviceID string) []string {
	tagIDs, err := s.cache.TagsForDevice(ctx, deviceID)
	if err != nil || len(tagIDs) == 0 {
		tagIDs, err = s.store.TagIDsForDevice(ctx, deviceID)
		if err != nil {
			util.Warn("Failed to resolve tag associations for device",
				zap.String("device_id", deviceID),
				zap.Error(err))
			return []string{}
		}
		for _, tagID := range tagIDs {
			if err := s.cache.AddAssociation(ctx, model.TagAssociation{DeviceID: deviceID, TagID: tagID}); err != nil {
				util.Warn("Failed to warm association cache", zap.Error(err))
			}
		}
	}

	names := make([]string, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		if tag, found, err := s.cache.GetTagProjection(ctx, tagID); err == nil && found {
			names = append(names, tag.Name)
			continue
		}

		name, err := s.store.TagName(ctx, tagID)
		if err != nil {
			if !errors.Is(err, postgres.ErrNotFound) {
				util.Warn("Failed to resolve tag name",
					zap.String("tag_id", tagID),
					zap.Error(err))
			}
			continue
		}
		names = append(names, name)
		if err := s.cache.SetTagProjection(ctx, &model.TagProjection{TagID: tagID, Name: name}); err != nil {
			util.Warn("Failed to warm tag projection cache", zap.Error(err))
		}
	}

	sort.Strings(names)
	return names
}

func tagFromState(state map[string]interface{}) *model.TagProjection {
	tagID := fieldString(state, "id")
	if tagID == "" {
		return nil
	}
	return &model.TagProjection{
		TagID: tagID,
		Name:  fieldString(state, "name"),
	}
}

// fieldString projects a state field as a string, tolerating numeric ids.
func fieldString(state map[string]interface{}, keys ...string) string {
	return cdc.StringField(state, keys...)
}

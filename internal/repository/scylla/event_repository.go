package scylla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

// EventRepository writes enriched events into the append-only audit table,
// partitioned by (ingest_day, event_bucket) for range scans per day.
type EventRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.Manager
}

func NewEventRepository(client *ScyllaClient, bucketingMgr *bucketing.Manager) *EventRepository {
	return &EventRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

// InsertEvent appends one event row. Inserts are idempotent on
// (ingest_day, event_bucket, event_time, tool_event_id); redelivered
// messages overwrite the identical row.
func (r *EventRepository) InsertEvent(ctx context.Context, ev *model.EnrichedEvent) error {
	bucket := r.bucketing.EventBucket(ev.ToolEventID)

	query := r.client.Prepared.InsertEvent.Bind(
		ev.IngestDay, bucket, ev.EventTime, ev.ToolEventID, string(ev.Tool),
		ev.EventType, ev.Category, ev.Severity, ev.DeviceID, ev.UserID, ev.Summary,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert unified event",
			zap.String("tool_event_id", ev.ToolEventID),
			zap.String("ingest_day", ev.IngestDay),
			zap.Int("event_bucket", bucket),
			zap.Error(err))
		return fmt.Errorf("failed to insert unified event: %w", err)
	}

	util.Debug("Unified event inserted",
		zap.String("tool_event_id", ev.ToolEventID),
		zap.String("ingest_day", ev.IngestDay),
		zap.Int("event_bucket", bucket))

	return nil
}

// EventsForDay reads back one day-partition bucket, used by operational
// spot checks.
func (r *EventRepository) EventsForDay(ctx context.Context, ingestDay string, bucket int) ([]*model.EnrichedEvent, error) {
	iter := r.client.Prepared.GetEventsByDay.Bind(ingestDay, bucket).WithContext(ctx).Iter()

	var events []*model.EnrichedEvent
	for {
		ev := &model.EnrichedEvent{}
		var day string
		var b int
		var tool string
		if !iter.Scan(&day, &b, &ev.EventTime, &ev.ToolEventID, &tool,
			&ev.EventType, &ev.Category, &ev.Severity, &ev.DeviceID, &ev.UserID, &ev.Summary) {
			break
		}
		ev.IngestDay = day
		ev.Tool = model.ToolType(tool)
		events = append(events, ev)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read events for day %s: %w", ingestDay, err)
	}
	return events, nil
}

// EventWindow narrows one day-partition bucket to a time range. Only the
// identifying columns are selected; the full rows live in EventsForDay.
func (r *EventRepository) EventWindow(ctx context.Context, ingestDay string, bucket int, from, to time.Time) ([]*model.EnrichedEvent, error) {
	iter := r.client.Prepared.GetEventsByBucket.Bind(ingestDay, bucket, from, to).WithContext(ctx).Iter()

	var events []*model.EnrichedEvent
	for {
		ev := &model.EnrichedEvent{IngestDay: ingestDay}
		if !iter.Scan(&ev.ToolEventID, &ev.EventTime, &ev.EventType, &ev.Severity) {
			break
		}
		events = append(events, ev)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read event window for day %s: %w", ingestDay, err)
	}
	return events, nil
}

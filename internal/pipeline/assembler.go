package pipeline

import (
	"time"

	"github.com/google/uuid"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/model"
	"event-pipeline/internal/taxonomy"
)

// AssembleEvent combines extraction, taxonomy and enrichment results into
// the canonical record. It performs no I/O and cannot fail; absent inputs
// flow through as empty fields.
//
// The ingest day is derived in UTC so that reprocessing the same envelope
// always lands in the same storage partition.
func AssembleEvent(
	fields model.ExtractedFields,
	tool model.ToolType,
	unified taxonomy.UnifiedEventType,
	deviceID, userID string,
	eventTime time.Time,
) *model.EnrichedEvent {
	toolEventID := fields.EventSourceID
	if toolEventID == "" {
		// Source row carried no native id; mint one so the audit row and
		// search document remain keyable. Such events are not deduplicated
		// across redeliveries.
		toolEventID = uuid.New().String()
	}

	return &model.EnrichedEvent{
		ToolEventID: toolEventID,
		Tool:        tool,
		IngestDay:   bucketing.DateBucket(eventTime),
		DeviceID:    deviceID,
		UserID:      userID,
		EventType:   unified.Name,
		Category:    string(unified.Category),
		Severity:    string(unified.Severity),
		Summary:     fields.Detail,
		EventTime:   eventTime.UTC(),
	}
}

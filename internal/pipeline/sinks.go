package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"event-pipeline/internal/model"
)

// Narrow views over the infrastructure clients, so sinks can be exercised
// against fakes.

type messageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type eventWriter interface {
	InsertEvent(ctx context.Context, ev *model.EnrichedEvent) error
}

type batchInserter interface {
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, index, docID string, body []byte) error
}

// -------------------- broker sink --------------------

// BrokerSink publishes enriched events to the unified-events topic. This is
// the only destination whose failures escalate: the broker consumer has a
// real redelivery contract and downstream consumers deduplicate on
// tool_event_id.
type BrokerSink struct {
	producer messageProducer
	topic    string
	timeout  time.Duration
}

func NewBrokerSink(producer messageProducer, topic string, timeout time.Duration) *BrokerSink {
	return &BrokerSink{producer: producer, topic: topic, timeout: timeout}
}

func (s *BrokerSink) Name() string { return "broker" }

func (s *BrokerSink) Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	if op == model.OpDelete || op == model.OpNoop {
		// The unified event stream is append-only.
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrSinkDelivery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Keyed by tool event id so duplicates of one event share a partition.
	if err := s.producer.ProduceMessage(ctx, s.topic, []byte(ev.ToolEventID), value, map[string]string{
		"tool": string(ev.Tool),
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkDelivery, err)
	}
	return nil
}

// -------------------- audit store sink --------------------

// AuditStoreSink writes events into the column-family audit table. The audit
// trail is immutable: updates append the newer row image, deletes are no-ops.
// Write failures are lost for this destination only.
type AuditStoreSink struct {
	repo    eventWriter
	timeout time.Duration
}

func NewAuditStoreSink(repo eventWriter, timeout time.Duration) *AuditStoreSink {
	return &AuditStoreSink{repo: repo, timeout: timeout}
}

func (s *AuditStoreSink) Name() string { return "audit_store" }

func (s *AuditStoreSink) Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	if op == model.OpDelete || op == model.OpNoop {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.InsertEvent(ctx, ev)
}

// -------------------- analytics store sink --------------------

const analyticsInsertQuery = `INSERT INTO unified_events
	(ingest_day, event_time, tool_event_id, tool, event_type, category, severity, device_id, user_id, summary)`

// AnalyticsSink appends events to the ClickHouse table the OLAP layer reads.
type AnalyticsSink struct {
	inserter batchInserter
	timeout  time.Duration
}

func NewAnalyticsSink(inserter batchInserter, timeout time.Duration) *AnalyticsSink {
	return &AnalyticsSink{inserter: inserter, timeout: timeout}
}

func (s *AnalyticsSink) Name() string { return "analytics_store" }

func (s *AnalyticsSink) Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	if op == model.OpDelete || op == model.OpNoop {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := []interface{}{
		ev.IngestDay, ev.EventTime, ev.ToolEventID, string(ev.Tool),
		ev.EventType, ev.Category, ev.Severity, ev.DeviceID, ev.UserID, ev.Summary,
	}
	if err := s.inserter.BatchInsert(ctx, analyticsInsertQuery, [][]interface{}{row}); err != nil {
		return fmt.Errorf("failed to insert analytics row: %w", err)
	}
	return nil
}

// -------------------- search index sink --------------------

// SearchSink indexes events for free-text search. Documents are keyed by
// tool_event_id, so redelivered events overwrite instead of duplicating.
type SearchSink struct {
	indexer documentIndexer
	index   string
	timeout time.Duration
}

func NewSearchSink(indexer documentIndexer, index string, timeout time.Duration) *SearchSink {
	return &SearchSink{indexer: indexer, index: index, timeout: timeout}
}

func (s *SearchSink) Name() string { return "search_index" }

func (s *SearchSink) Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	if op == model.OpDelete || op == model.OpNoop {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event for indexing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.indexer.IndexDocument(ctx, s.index, ev.ToolEventID, body)
}

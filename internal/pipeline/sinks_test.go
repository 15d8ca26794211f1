package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/model"
)

type fakeProducer struct {
	err      error
	messages []producedMessage
}

type producedMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, producedMessage{topic: topic, key: string(key), value: value, headers: headers})
	return nil
}

type fakeEventWriter struct {
	err    error
	events []*model.EnrichedEvent
}

func (w *fakeEventWriter) InsertEvent(_ context.Context, ev *model.EnrichedEvent) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

type fakeIndexer struct {
	docIDs []string
}

func (f *fakeIndexer) IndexDocument(_ context.Context, _ string, docID string, _ []byte) error {
	f.docIDs = append(f.docIDs, docID)
	return nil
}

func TestBrokerSinkPublishesKeyedByEventID(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewBrokerSink(producer, "events.unified", time.Second)

	err := sink.Handle(context.Background(), model.OpCreate, testEvent())

	require.NoError(t, err)
	require.Len(t, producer.messages, 1)
	msg := producer.messages[0]
	assert.Equal(t, "events.unified", msg.topic)
	assert.Equal(t, "evt-1", msg.key)
	assert.Equal(t, "console", msg.headers["tool"])
}

func TestBrokerSinkIgnoresDeletes(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewBrokerSink(producer, "events.unified", time.Second)

	require.NoError(t, sink.Handle(context.Background(), model.OpDelete, testEvent()))
	assert.Empty(t, producer.messages)
}

func TestBrokerSinkFailureIsDeliveryError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unreachable")}
	sink := NewBrokerSink(producer, "events.unified", time.Second)

	err := sink.Handle(context.Background(), model.OpCreate, testEvent())

	assert.ErrorIs(t, err, ErrSinkDelivery)
}

func TestAuditStoreSinkAppendsUpdatesAndIgnoresDeletes(t *testing.T) {
	writer := &fakeEventWriter{}
	sink := NewAuditStoreSink(writer, time.Second)

	require.NoError(t, sink.Handle(context.Background(), model.OpUpdate, testEvent()))
	require.NoError(t, sink.Handle(context.Background(), model.OpDelete, testEvent()))

	assert.Len(t, writer.events, 1)
}

func TestAuditStoreSinkFailureDoesNotEscalate(t *testing.T) {
	writer := &fakeEventWriter{err: errors.New("node down")}
	sink := NewAuditStoreSink(writer, time.Second)

	err := sink.Handle(context.Background(), model.OpCreate, testEvent())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSinkDelivery))
}

func TestSearchSinkIndexesByEventID(t *testing.T) {
	indexer := &fakeIndexer{}
	sink := NewSearchSink(indexer, "unified-events", time.Second)

	require.NoError(t, sink.Handle(context.Background(), model.OpCreate, testEvent()))
	// A redelivered event overwrites the same document.
	require.NoError(t, sink.Handle(context.Background(), model.OpCreate, testEvent()))

	assert.Equal(t, []string{"evt-1", "evt-1"}, indexer.docIDs)
}

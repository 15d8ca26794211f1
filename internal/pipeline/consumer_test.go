package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/config"
	"event-pipeline/internal/enrichment"
	"event-pipeline/internal/model"
	"event-pipeline/internal/repository/postgres"
	"event-pipeline/internal/taxonomy"
)

func testConfig() *config.Config {
	return config.LoadConfig()
}

type noopIdentityCache struct{}

func (noopIdentityCache) GetDeviceID(context.Context, model.ToolType, string) (string, bool, error) {
	return "", false, nil
}
func (noopIdentityCache) SetDeviceID(context.Context, model.ToolType, string, string) error {
	return nil
}
func (noopIdentityCache) GetUserID(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (noopIdentityCache) SetUserID(context.Context, string, string) error { return nil }

type mapIdentityStore struct {
	devices map[string]string
	users   map[string]string
}

func (s *mapIdentityStore) DeviceIDForAgent(_ context.Context, tool model.ToolType, agentOrHostID string) (string, error) {
	if id, ok := s.devices[string(tool)+":"+agentOrHostID]; ok {
		return id, nil
	}
	return "", postgres.ErrNotFound
}

func (s *mapIdentityStore) UserIDForUsername(_ context.Context, username string) (string, error) {
	if id, ok := s.users[username]; ok {
		return id, nil
	}
	return "", postgres.ErrNotFound
}

type captureSink struct {
	fakeSink
	events []*model.EnrichedEvent
}

func (s *captureSink) Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	s.events = append(s.events, ev)
	return s.fakeSink.Handle(ctx, op, ev)
}

func newTestProcessor(store enrichment.AssociationStore, sink Sink) *Processor {
	resolver := enrichment.NewResolver(noopIdentityCache{}, store, time.Second)
	dispatcher := NewDispatcher(map[model.ToolType][]Sink{
		model.ToolConsole: {sink},
		model.ToolRMM:     {sink},
		model.ToolMDM:     {sink},
	})
	return NewProcessor(taxonomy.NewRegistry(), resolver, dispatcher, nil)
}

func mdmBinding(t *testing.T) SourceBinding {
	t.Helper()
	bindings, err := Bindings(testConfig())
	require.NoError(t, err)
	for _, b := range bindings {
		if b.Tool == model.ToolMDM {
			return b
		}
	}
	t.Fatal("no mdm binding")
	return SourceBinding{}
}

func TestProcessEnrichesAndDispatchesEnrollment(t *testing.T) {
	store := &mapIdentityStore{
		devices: map[string]string{"mdm:A-42": "D-910"},
		users:   map[string]string{"admin@example.com": "U-7"},
	}
	sink := &captureSink{fakeSink: fakeSink{name: "broker"}}
	p := newTestProcessor(store, sink)

	msg := []byte(`{
		"payload": {
			"op": "c",
			"before": null,
			"after": {
				"uuid": "evt-123",
				"agent_id": "A-42",
				"host_identifier": "H-1",
				"activity_type": "fleet_enrolled",
				"details": "enrolled via DEP",
				"actor_email": "admin@example.com"
			},
			"source": {"connector": "postgresql", "db": "mdm", "table": "host_activities"},
			"ts_ms": 1741945613000
		}
	}`)

	require.NoError(t, p.Process(context.Background(), mdmBinding(t), msg))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "evt-123", ev.ToolEventID)
	assert.Equal(t, model.ToolMDM, ev.Tool)
	assert.Equal(t, "D-910", ev.DeviceID)
	assert.Equal(t, "U-7", ev.UserID)
	assert.Equal(t, "DEVICE_REGISTERED", ev.EventType)
	assert.Equal(t, "enrolled via DEP", ev.Summary)
	assert.Equal(t, model.OpCreate, sink.lastOp)
}

func TestProcessUnresolvedIdentityStillDispatches(t *testing.T) {
	sink := &captureSink{fakeSink: fakeSink{name: "broker"}}
	p := newTestProcessor(&mapIdentityStore{}, sink)

	msg := []byte(`{
		"payload": {
			"op": "u",
			"after": {"uuid": "evt-9", "agent_id": "ghost", "activity_type": "policy_violation"},
			"source": {"connector": "postgresql", "db": "mdm", "table": "host_activities"},
			"ts_ms": 1741945613000
		}
	}`)

	require.NoError(t, p.Process(context.Background(), mdmBinding(t), msg))

	require.Len(t, sink.events, 1)
	assert.Empty(t, sink.events[0].DeviceID)
	assert.Empty(t, sink.events[0].UserID)
}

func TestProcessDropsMalformedMessages(t *testing.T) {
	sink := &captureSink{fakeSink: fakeSink{name: "broker"}}
	p := newTestProcessor(&mapIdentityStore{}, sink)

	// Dropped messages return nil so the offset is committed past them.
	require.NoError(t, p.Process(context.Background(), mdmBinding(t), []byte(`not json`)))
	require.NoError(t, p.Process(context.Background(), mdmBinding(t), []byte(`{"schema": {}}`)))

	assert.Empty(t, sink.events)
}

func TestProcessSkipsUnknownOpCodes(t *testing.T) {
	sink := &captureSink{fakeSink: fakeSink{name: "broker"}}
	p := newTestProcessor(&mapIdentityStore{}, sink)

	msg := []byte(`{
		"payload": {
			"op": "m",
			"after": {"uuid": "evt-1", "activity_type": "fleet_enrolled"},
			"source": {"connector": "postgresql", "db": "mdm", "table": "host_activities"},
			"ts_ms": 1741945613000
		}
	}`)

	require.NoError(t, p.Process(context.Background(), mdmBinding(t), msg))
	assert.Empty(t, sink.events)
}

func TestProcessEscalatesDeliveryFailures(t *testing.T) {
	sink := &captureSink{fakeSink: fakeSink{name: "broker", err: ErrSinkDelivery}}
	p := newTestProcessor(&mapIdentityStore{}, sink)

	msg := []byte(`{
		"payload": {
			"op": "c",
			"after": {"uuid": "evt-1", "activity_type": "fleet_enrolled"},
			"source": {"connector": "postgresql", "db": "mdm", "table": "host_activities"},
			"ts_ms": 1741945613000
		}
	}`)

	err := p.Process(context.Background(), mdmBinding(t), msg)
	assert.ErrorIs(t, err, ErrSinkDelivery)
}

func TestHandleWithRetryReportsCancellationBeforeDelivery(t *testing.T) {
	sink := &captureSink{fakeSink: fakeSink{name: "broker", err: ErrSinkDelivery}}
	p := newTestProcessor(&mapIdentityStore{}, sink)
	c := NewConsumer(testConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := kafka.Message{Value: []byte(`{
		"payload": {
			"op": "c",
			"after": {"uuid": "evt-1", "activity_type": "fleet_enrolled"},
			"source": {"connector": "postgresql", "db": "mdm", "table": "host_activities"},
			"ts_ms": 1741945613000
		}
	}`)}

	// The offset must not be committed for an undelivered message, so
	// cancellation mid-retry surfaces as an error to the worker loop.
	err := c.handleWithRetry(ctx, mdmBinding(t), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRoutesInternalEntitiesToReadModel(t *testing.T) {
	producer := &fakeProducer{}
	sync := newTestSync(newMemReadModel(), &fakeAssocSource{}, producer)
	p := NewProcessor(taxonomy.NewRegistry(), enrichment.NewResolver(noopIdentityCache{}, &mapIdentityStore{}, time.Second), NewDispatcher(nil), sync)

	bindings, err := Bindings(testConfig())
	require.NoError(t, err)
	var internal SourceBinding
	for _, b := range bindings {
		if b.Internal {
			internal = b
		}
	}
	require.True(t, internal.Internal)

	msg := []byte(`{
		"payload": {
			"op": "c",
			"after": {"id": "D1", "name": "alice-mbp", "platform": "darwin"},
			"source": {"connector": "postgresql", "db": "platform", "table": "devices"},
			"ts_ms": 1741945613000
		}
	}`)

	require.NoError(t, p.Process(context.Background(), internal, msg))
	require.Len(t, producer.messages, 1)
	assert.Equal(t, "analytics.device-projections", producer.messages[0].topic)
}

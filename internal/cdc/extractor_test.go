package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/model"
)

func TestExtractorForTool(t *testing.T) {
	for _, tool := range []model.ToolType{model.ToolConsole, model.ToolRMM, model.ToolMDM} {
		ex, err := ExtractorForTool(tool)
		require.NoError(t, err)
		assert.Equal(t, tool, ex.Tool())
	}

	_, err := ExtractorForTool(model.ToolType("unknown"))
	assert.Error(t, err)
}

func TestMDMExtractor_AgentIDPriority(t *testing.T) {
	ex, err := ExtractorForTool(model.ToolMDM)
	require.NoError(t, err)

	tests := []struct {
		name  string
		after map[string]interface{}
		want  string
	}{
		{
			name:  "agent id wins over host identifier",
			after: map[string]interface{}{"agent_id": "A1", "host_identifier": "H1"},
			want:  "A1",
		},
		{
			name:  "host identifier when agent id absent",
			after: map[string]interface{}{"host_identifier": "H1"},
			want:  "H1",
		},
		{
			name:  "host identifier when agent id blank",
			after: map[string]interface{}{"agent_id": "   ", "host_identifier": "H1"},
			want:  "H1",
		},
		{
			name:  "both missing",
			after: map[string]interface{}{"activity_type": "fleet_enrolled"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ex.AgentOrHostID(tt.after))
		})
	}
}

func TestConsoleExtractor(t *testing.T) {
	ex, err := ExtractorForTool(model.ToolConsole)
	require.NoError(t, err)

	after := map[string]interface{}{
		"_id":         map[string]interface{}{"$oid": "665f1c2e9b"},
		"agent_guid":  "g-42",
		"event_type":  "remote_session_start",
		"description": "session opened from 10.0.0.4",
		"actor":       "jsmith",
	}

	fields := Extract(ex, after)
	assert.Equal(t, "g-42", fields.AgentOrHostID)
	assert.Equal(t, "remote_session_start", fields.NativeEventType)
	assert.Equal(t, "665f1c2e9b", fields.EventSourceID)
	assert.Equal(t, "session opened from 10.0.0.4", fields.Detail)
	assert.Equal(t, "jsmith", fields.ActorUsername)
}

func TestConsoleExtractor_ActorShapes(t *testing.T) {
	ex, err := ExtractorForTool(model.ToolConsole)
	require.NoError(t, err)

	tests := []struct {
		name  string
		after map[string]interface{}
		want  string
	}{
		{
			name:  "nested actor object",
			after: map[string]interface{}{"actor": map[string]interface{}{"username": "jsmith@example.com"}},
			want:  "jsmith@example.com",
		},
		{
			name:  "nested actor with email key",
			after: map[string]interface{}{"actor": map[string]interface{}{"email": "ops@example.com"}},
			want:  "ops@example.com",
		},
		{
			name:  "flat actor string",
			after: map[string]interface{}{"actor": "jsmith"},
			want:  "jsmith",
		},
		{
			name:  "flat username field",
			after: map[string]interface{}{"username": "jsmith"},
			want:  "jsmith",
		},
		{
			name:  "actor absent",
			after: map[string]interface{}{"event_type": "login_success"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ex.ActorUsername(tt.after))
		})
	}
}

func TestConsoleExtractor_NestedActorThroughDecode(t *testing.T) {
	ex, err := ExtractorForTool(model.ToolConsole)
	require.NoError(t, err)

	// Oplog connectors serialize the document as a string; the actor arrives
	// as a nested object inside it.
	msg := []byte(`{
		"payload": {
			"op": "c",
			"after": "{\"_id\": \"665f1c2e9b\", \"agent_guid\": \"g-42\", \"event_type\": \"login_success\", \"actor\": {\"username\": \"jsmith@example.com\"}}",
			"source": {"connector": "mongodb", "db": "console", "collection": "session_events"},
			"ts_ms": 1741945613000
		}
	}`)

	env, err := DecodeEnvelope(msg, model.SourceMongoDB)
	require.NoError(t, err)

	fields := Extract(ex, env.After)
	assert.Equal(t, "jsmith@example.com", fields.ActorUsername)
	assert.Equal(t, "g-42", fields.AgentOrHostID)
}

func TestConsoleExtractor_PlainStringID(t *testing.T) {
	ex, _ := ExtractorForTool(model.ToolConsole)
	assert.Equal(t, "abc", ex.EventSourceID(map[string]interface{}{"_id": "abc"}))
}

func TestRMMExtractor_NumericID(t *testing.T) {
	ex, err := ExtractorForTool(model.ToolRMM)
	require.NoError(t, err)

	after := map[string]interface{}{
		"id":        float64(9001),
		"agent_uid": "uid-3",
		"activity":  "script.run",
		"message":   "ran cleanup.ps1",
	}

	fields := Extract(ex, after)
	assert.Equal(t, "9001", fields.EventSourceID)
	assert.Equal(t, "uid-3", fields.AgentOrHostID)
	assert.Equal(t, "script.run", fields.NativeEventType)
}

func TestExtract_NilAfter(t *testing.T) {
	// Every extractor must tolerate a nil or empty after image.
	for _, tool := range []model.ToolType{model.ToolConsole, model.ToolRMM, model.ToolMDM} {
		ex, err := ExtractorForTool(tool)
		require.NoError(t, err)

		fields := Extract(ex, nil)
		assert.Equal(t, model.ExtractedFields{}, fields)
	}
}

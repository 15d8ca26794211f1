package cdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/model"
)

func TestDecodeEnvelope_RowSource(t *testing.T) {
	data := []byte(`{
		"payload": {
			"before": null,
			"after": {"id": 42, "agent_uid": "a-17", "activity": "patch.applied"},
			"source": {"connector": "mysql", "db": "rmm", "table": "activity_log"},
			"op": "c",
			"ts_ms": 1714060800000
		}
	}`)

	env, err := DecodeEnvelope(data, model.SourceMySQL)
	require.NoError(t, err)

	assert.Equal(t, model.OpCreate, env.Operation)
	assert.Nil(t, env.Before)
	assert.Equal(t, "a-17", env.After["agent_uid"])
	assert.Equal(t, "activity_log", env.SourceTable)
	assert.Equal(t, "mysql", env.SourceConnector)
	assert.Equal(t, time.UnixMilli(1714060800000).UTC(), env.SourceTimestamp)
}

func TestDecodeEnvelope_DocumentSourceNestedString(t *testing.T) {
	// Document-store connectors ship the after image as a JSON string.
	data := []byte(`{
		"payload": {
			"after": "{\"_id\": \"665f\", \"agent_guid\": \"g-1\", \"event_type\": \"login_success\"}",
			"source": {"connector": "mongodb", "db": "console", "collection": "session_events"},
			"op": "u",
			"ts_ms": 1714060800123
		}
	}`)

	env, err := DecodeEnvelope(data, model.SourceMongoDB)
	require.NoError(t, err)

	assert.Equal(t, model.OpUpdate, env.Operation)
	assert.Equal(t, "g-1", env.After["agent_guid"])
	assert.Equal(t, "session_events", env.SourceTable)
}

func TestDecodeEnvelope_OperationCodes(t *testing.T) {
	tests := []struct {
		code string
		want model.Operation
	}{
		{"c", model.OpCreate},
		{"r", model.OpRead},
		{"u", model.OpUpdate},
		{"d", model.OpDelete},
		{"m", model.OpNoop},
		{"", model.OpNoop},
		{"x", model.OpNoop},
	}

	for _, tt := range tests {
		t.Run("op_"+tt.code, func(t *testing.T) {
			data := []byte(`{"payload": {"op": "` + tt.code + `", "ts_ms": 1, "source": {"table": "t"}}}`)
			env, err := DecodeEnvelope(data, model.SourcePostgres)
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Operation)
		})
	}
}

func TestDecodeEnvelope_DeleteWithoutAfter(t *testing.T) {
	data := []byte(`{
		"payload": {
			"before": {"id": 7},
			"after": null,
			"source": {"connector": "postgresql", "db": "platform", "table": "devices"},
			"op": "d",
			"ts_ms": 1714060800000
		}
	}`)

	env, err := DecodeEnvelope(data, model.SourcePostgres)
	require.NoError(t, err)
	assert.Equal(t, model.OpDelete, env.Operation)
	assert.Nil(t, env.After)
	assert.Equal(t, float64(7), env.Before["id"])
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format model.SourceFormat
	}{
		{"truncated json", `{"payload": {"op":`, model.SourceMySQL},
		{"missing payload", `{"schema": {}}`, model.SourceMySQL},
		{"document image not a string", `{"payload": {"op": "c", "after": {"a": 1}, "source": {}}}`, model.SourceMongoDB},
		{"nested document not json", `{"payload": {"op": "c", "after": "not json", "source": {}}}`, model.SourceMongoDB},
		{"row image not an object", `{"payload": {"op": "c", "after": [1,2], "source": {}}}`, model.SourceMySQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

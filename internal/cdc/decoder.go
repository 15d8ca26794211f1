package cdc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"event-pipeline/internal/model"
)

// ErrMalformedEnvelope marks an inbound message whose top-level shape cannot
// be decoded. Callers log and drop; redelivery would reproduce the same bytes.
var ErrMalformedEnvelope = errors.New("malformed change envelope")

// Wire shape of a Debezium-style CDC message.
type rawEnvelope struct {
	Payload *rawPayload `json:"payload"`
}

type rawPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source rawSource       `json:"source"`
	Op     string          `json:"op"`
	TsMs   int64           `json:"ts_ms"`
}

type rawSource struct {
	Connector  string `json:"connector"`
	DB         string `json:"db"`
	Collection string `json:"collection"`
	Table      string `json:"table"`
}

// DecodeEnvelope parses one raw CDC message into a ChangeEnvelope. For
// document-store sources the after image arrives as a string-encoded
// sub-document and needs a second decode pass.
func DecodeEnvelope(data []byte, format model.SourceFormat) (*model.ChangeEnvelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}

	before, err := decodeState(raw.Payload.Before, format)
	if err != nil {
		return nil, err
	}
	after, err := decodeState(raw.Payload.After, format)
	if err != nil {
		return nil, err
	}

	table := raw.Payload.Source.Table
	if table == "" {
		table = raw.Payload.Source.Collection
	}

	return &model.ChangeEnvelope{
		Operation:       model.OperationFromCode(raw.Payload.Op),
		Before:          before,
		After:           after,
		SourceConnector: raw.Payload.Source.Connector,
		SourceDB:        raw.Payload.Source.DB,
		SourceTable:     table,
		SourceTimestamp: time.UnixMilli(raw.Payload.TsMs).UTC(),
	}, nil
}

// decodeState turns a before/after image into a key/value map. Absent or null
// images decode to nil, which is not an error (deletes carry no after image).
func decodeState(raw json.RawMessage, format model.SourceFormat) (map[string]interface{}, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if format == model.SourceMongoDB {
		// Oplog connectors serialize the changed document as a JSON string,
		// so unwrap the string first, then decode the document itself.
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: document image is not a string: %v", ErrMalformedEnvelope, err)
		}
		var state map[string]interface{}
		if err := json.Unmarshal([]byte(doc), &state); err != nil {
			return nil, fmt.Errorf("%w: nested document decode: %v", ErrMalformedEnvelope, err)
		}
		return state, nil
	}

	var state map[string]interface{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: row image decode: %v", ErrMalformedEnvelope, err)
	}
	return state, nil
}

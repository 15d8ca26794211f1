package model

import "time"

// -------------------- SOURCE DISCRIMINATORS --------------------

// SourceFormat identifies the physical replication format a CDC topic carries.
type SourceFormat string

const (
	SourceMongoDB  SourceFormat = "mongodb"  // oplog; "after" is a string-encoded document
	SourceMySQL    SourceFormat = "mysql"    // binlog row image
	SourcePostgres SourceFormat = "postgres" // WAL-derived row image
)

// ToolType identifies which integrated tool emitted the change.
type ToolType string

const (
	ToolConsole ToolType = "console" // remote-management console
	ToolRMM     ToolType = "rmm"     // RMM agent platform
	ToolMDM     ToolType = "mdm"     // MDM server
)

// -------------------- OPERATIONS --------------------

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpRead   Operation = "READ"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpNoop   Operation = "NOOP"
)

// OperationFromCode maps a single-character Debezium op code to an Operation.
// Codes outside the known four (snapshot markers, heartbeats) become OpNoop.
func OperationFromCode(code string) Operation {
	switch code {
	case "c":
		return OpCreate
	case "r":
		return OpRead
	case "u":
		return OpUpdate
	case "d":
		return OpDelete
	default:
		return OpNoop
	}
}

// -------------------- CDC ENVELOPE --------------------

// ChangeEnvelope is one decoded CDC message. Constructed once per inbound
// message and never mutated afterwards.
type ChangeEnvelope struct {
	Operation       Operation
	Before          map[string]interface{}
	After           map[string]interface{}
	SourceConnector string
	SourceDB        string
	SourceTable     string // table for row sources, collection for document sources
	SourceTimestamp time.Time
}

// -------------------- EXTRACTION --------------------

// ExtractedFields is the tool-specific projection of an envelope's After
// state. Any field may be empty; downstream stages tolerate partial data.
type ExtractedFields struct {
	AgentOrHostID   string
	NativeEventType string
	Detail          string
	EventSourceID   string
	ActorUsername   string
}

// -------------------- CANONICAL EVENT --------------------

// EnrichedEvent is the canonical record handed to the sink dispatcher.
// DeviceID and UserID are empty when identity resolution failed; an event
// with unresolved identity is still written for audit purposes.
type EnrichedEvent struct {
	ToolEventID string    `json:"tool_event_id"`
	Tool        ToolType  `json:"tool"`
	IngestDay   string    `json:"ingest_day"`
	DeviceID    string    `json:"device_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	EventType   string    `json:"event_type"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Summary     string    `json:"summary,omitempty"`
	EventTime   time.Time `json:"event_time"`
}

// -------------------- READ-MODEL PROJECTIONS --------------------

// DeviceProjection is the denormalized "device with tags" read model
// published to the analytics feed and cached with a TTL.
type DeviceProjection struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TagProjection struct {
	TagID string `json:"tag_id"`
	Name  string `json:"name"`
}

type TagAssociation struct {
	DeviceID string `json:"device_id"`
	TagID    string `json:"tag_id"`
}

package cdc

import (
	"fmt"
	"strconv"
	"strings"

	"event-pipeline/internal/model"
)

// FieldExtractor pulls tool-specific identity and classification fields out
// of a decoded after image. Every method returns "" for missing or blank
// input; partial extraction still yields a usable event.
type FieldExtractor interface {
	Tool() model.ToolType
	AgentOrHostID(after map[string]interface{}) string
	NativeEventType(after map[string]interface{}) string
	EventSourceID(after map[string]interface{}) string
	Detail(after map[string]interface{}) string
	ActorUsername(after map[string]interface{}) string
}

// ExtractorForTool returns the extractor for a tool discriminator.
func ExtractorForTool(tool model.ToolType) (FieldExtractor, error) {
	switch tool {
	case model.ToolConsole:
		return consoleExtractor{}, nil
	case model.ToolRMM:
		return rmmExtractor{}, nil
	case model.ToolMDM:
		return mdmExtractor{}, nil
	default:
		return nil, fmt.Errorf("no extractor for tool %q", tool)
	}
}

// Extract runs every extraction against one after image.
func Extract(ex FieldExtractor, after map[string]interface{}) model.ExtractedFields {
	return model.ExtractedFields{
		AgentOrHostID:   ex.AgentOrHostID(after),
		NativeEventType: ex.NativeEventType(after),
		Detail:          ex.Detail(after),
		EventSourceID:   ex.EventSourceID(after),
		ActorUsername:   ex.ActorUsername(after),
	}
}

// -------------------- console (document store) --------------------

type consoleExtractor struct{}

func (consoleExtractor) Tool() model.ToolType { return model.ToolConsole }

func (consoleExtractor) AgentOrHostID(after map[string]interface{}) string {
	return StringField(after, "agent_guid")
}

func (consoleExtractor) NativeEventType(after map[string]interface{}) string {
	return StringField(after, "event_type")
}

func (consoleExtractor) EventSourceID(after map[string]interface{}) string {
	// Document ids arrive either as a plain string or as an extended-JSON
	// {"$oid": "..."} wrapper depending on connector settings.
	if id := StringField(after, "_id"); id != "" {
		return id
	}
	if wrapped, ok := after["_id"].(map[string]interface{}); ok {
		return stringValue(wrapped["$oid"])
	}
	return ""
}

func (consoleExtractor) Detail(after map[string]interface{}) string {
	return StringField(after, "description")
}

// ActorUsername handles both actor shapes the oplog produces: a nested
// {"actor": {"username": ...}} object and the older flat string field.
func (consoleExtractor) ActorUsername(after map[string]interface{}) string {
	if actor, ok := after["actor"].(map[string]interface{}); ok {
		return StringField(actor, "username", "email")
	}
	return StringField(after, "actor", "username")
}

// -------------------- rmm (row store, binlog) --------------------

type rmmExtractor struct{}

func (rmmExtractor) Tool() model.ToolType { return model.ToolRMM }

func (rmmExtractor) AgentOrHostID(after map[string]interface{}) string {
	return StringField(after, "agent_uid")
}

func (rmmExtractor) NativeEventType(after map[string]interface{}) string {
	return StringField(after, "activity")
}

func (rmmExtractor) EventSourceID(after map[string]interface{}) string {
	return StringField(after, "id")
}

func (rmmExtractor) Detail(after map[string]interface{}) string {
	return StringField(after, "message")
}

func (rmmExtractor) ActorUsername(after map[string]interface{}) string {
	return StringField(after, "initiated_by")
}

// -------------------- mdm (row store, WAL) --------------------

type mdmExtractor struct{}

func (mdmExtractor) Tool() model.ToolType { return model.ToolMDM }

// AgentOrHostID prefers the explicit agent identifier and falls back to the
// host identifier only when agent_id is absent or blank. The ordering is a
// contract: host identifiers are reused across re-enrollments, agent ids
// are not.
func (mdmExtractor) AgentOrHostID(after map[string]interface{}) string {
	if id := StringField(after, "agent_id"); id != "" {
		return id
	}
	return StringField(after, "host_identifier")
}

func (mdmExtractor) NativeEventType(after map[string]interface{}) string {
	return StringField(after, "activity_type")
}

func (mdmExtractor) EventSourceID(after map[string]interface{}) string {
	return StringField(after, "uuid", "id")
}

func (mdmExtractor) Detail(after map[string]interface{}) string {
	return StringField(after, "details")
}

func (mdmExtractor) ActorUsername(after map[string]interface{}) string {
	return StringField(after, "actor_email")
}

// -------------------- helpers --------------------

// StringField returns the first non-blank value among the given keys.
func StringField(m map[string]interface{}, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

// stringValue renders scalar JSON values as strings. Numeric row ids decode
// as float64 and are rendered without a fractional part.
func stringValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

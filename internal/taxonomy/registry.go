package taxonomy

import (
	"go.uber.org/zap"

	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

type Category string

const (
	CategoryAuthentication   Category = "Authentication"
	CategoryDeviceManagement Category = "Device Management"
	CategoryPolicyManagement Category = "Policy Management"
	CategoryMonitoring       Category = "Monitoring"
	CategoryRemoteAccess     Category = "Remote Access"
	CategoryUnknown          Category = "Unknown"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// UnifiedEventType is the platform's canonical, tool-agnostic classification.
type UnifiedEventType struct {
	Name     string
	Category Category
	Severity Severity
}

// Unknown is the fallback for any (tool, native type) pair without a mapping.
var Unknown = UnifiedEventType{Name: "UNKNOWN", Category: CategoryUnknown, Severity: SeverityInfo}

type mappingKey struct {
	tool   model.ToolType
	native string
}

// Registry resolves (tool, native event type) pairs to unified event types.
// It is populated once at construction and never mutated afterwards, so
// concurrent lookups need no synchronization.
type Registry struct {
	mappings map[mappingKey]UnifiedEventType
}

// NewRegistry builds the registry from the built-in mapping table.
func NewRegistry() *Registry {
	return newRegistry(defaultMappings)
}

func newRegistry(entries []mappingEntry) *Registry {
	m := make(map[mappingKey]UnifiedEventType, len(entries))
	for _, e := range entries {
		m[mappingKey{tool: e.tool, native: e.native}] = e.unified
	}
	return &Registry{mappings: m}
}

// Resolve returns the unified type for a (tool, native) pair. Lookup is total:
// unmapped input resolves to Unknown and never fails the message.
func (r *Registry) Resolve(tool model.ToolType, nativeEventType string) UnifiedEventType {
	if unified, ok := r.mappings[mappingKey{tool: tool, native: nativeEventType}]; ok {
		return unified
	}
	util.Debug("no unified mapping for native event type",
		zap.String("tool", string(tool)),
		zap.String("native_event_type", nativeEventType),
	)
	return Unknown
}

// Size reports how many mappings the registry carries.
func (r *Registry) Size() int {
	return len(r.mappings)
}

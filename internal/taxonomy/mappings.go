package taxonomy

import "event-pipeline/internal/model"

type mappingEntry struct {
	tool    model.ToolType
	native  string
	unified UnifiedEventType
}

// Unified event types referenced by more than one mapping.
var (
	LoginSuccess     = UnifiedEventType{Name: "LOGIN_SUCCESS", Category: CategoryAuthentication, Severity: SeverityInfo}
	LoginFailed      = UnifiedEventType{Name: "LOGIN_FAILED", Category: CategoryAuthentication, Severity: SeverityMedium}
	DeviceRegistered = UnifiedEventType{Name: "DEVICE_REGISTERED", Category: CategoryDeviceManagement, Severity: SeverityInfo}
	DeviceRetired    = UnifiedEventType{Name: "DEVICE_RETIRED", Category: CategoryDeviceManagement, Severity: SeverityInfo}
)

// defaultMappings is the static taxonomy table. Extending tool or event
// coverage is a data change here; dispatch logic never switches on native
// event strings.
var defaultMappings = []mappingEntry{
	// Remote-management console.
	{model.ToolConsole, "login_success", LoginSuccess},
	{model.ToolConsole, "login_failure", LoginFailed},
	{model.ToolConsole, "remote_session_start", UnifiedEventType{Name: "REMOTE_SESSION_STARTED", Category: CategoryRemoteAccess, Severity: SeverityMedium}},
	{model.ToolConsole, "remote_session_end", UnifiedEventType{Name: "REMOTE_SESSION_ENDED", Category: CategoryRemoteAccess, Severity: SeverityInfo}},
	{model.ToolConsole, "file_transfer", UnifiedEventType{Name: "FILE_TRANSFERRED", Category: CategoryRemoteAccess, Severity: SeverityMedium}},
	{model.ToolConsole, "permission_change", UnifiedEventType{Name: "PERMISSION_CHANGED", Category: CategoryPolicyManagement, Severity: SeverityHigh}},
	{model.ToolConsole, "session_recording", UnifiedEventType{Name: "SESSION_RECORDED", Category: CategoryRemoteAccess, Severity: SeverityInfo}},

	// RMM agent platform.
	{model.ToolRMM, "user.login", LoginSuccess},
	{model.ToolRMM, "user.login_failed", LoginFailed},
	{model.ToolRMM, "agent.install", UnifiedEventType{Name: "AGENT_INSTALLED", Category: CategoryDeviceManagement, Severity: SeverityInfo}},
	{model.ToolRMM, "agent.uninstall", UnifiedEventType{Name: "AGENT_REMOVED", Category: CategoryDeviceManagement, Severity: SeverityMedium}},
	{model.ToolRMM, "agent.offline", UnifiedEventType{Name: "AGENT_OFFLINE", Category: CategoryMonitoring, Severity: SeverityLow}},
	{model.ToolRMM, "script.run", UnifiedEventType{Name: "SCRIPT_EXECUTED", Category: CategoryMonitoring, Severity: SeverityMedium}},
	{model.ToolRMM, "patch.applied", UnifiedEventType{Name: "PATCH_INSTALLED", Category: CategoryDeviceManagement, Severity: SeverityInfo}},
	{model.ToolRMM, "patch.failed", UnifiedEventType{Name: "PATCH_FAILED", Category: CategoryDeviceManagement, Severity: SeverityHigh}},
	{model.ToolRMM, "alert.triggered", UnifiedEventType{Name: "ALERT_RAISED", Category: CategoryMonitoring, Severity: SeverityHigh}},
	{model.ToolRMM, "alert.resolved", UnifiedEventType{Name: "ALERT_RESOLVED", Category: CategoryMonitoring, Severity: SeverityInfo}},

	// MDM server.
	{model.ToolMDM, "fleet_enrolled", DeviceRegistered},
	{model.ToolMDM, "fleet_unenrolled", DeviceRetired},
	{model.ToolMDM, "policy_applied", UnifiedEventType{Name: "POLICY_APPLIED", Category: CategoryPolicyManagement, Severity: SeverityInfo}},
	{model.ToolMDM, "policy_violation", UnifiedEventType{Name: "POLICY_VIOLATION", Category: CategoryPolicyManagement, Severity: SeverityHigh}},
	{model.ToolMDM, "profile_installed", UnifiedEventType{Name: "PROFILE_INSTALLED", Category: CategoryPolicyManagement, Severity: SeverityInfo}},
	{model.ToolMDM, "profile_removed", UnifiedEventType{Name: "PROFILE_REMOVED", Category: CategoryPolicyManagement, Severity: SeverityMedium}},
	{model.ToolMDM, "device_locked", UnifiedEventType{Name: "DEVICE_LOCKED", Category: CategoryDeviceManagement, Severity: SeverityMedium}},
	{model.ToolMDM, "device_wiped", UnifiedEventType{Name: "DEVICE_WIPED", Category: CategoryDeviceManagement, Severity: SeverityCritical}},
	{model.ToolMDM, "login_attempt_failed", LoginFailed},
}

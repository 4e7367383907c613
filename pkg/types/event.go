package types

import "time"

// AgentEventType defines the type of event emitted by the remediation agent.
type AgentEventType string

const (
	EventTypeViolationDiscovered AgentEventType = "violation_discovered"  // EventTypeViolationDiscovered indicates a new violation record was created.
	EventTypeFixStarted          AgentEventType = "fix_started"           // EventTypeFixStarted indicates a fix attempt has begun executing.
	EventTypeFixSuccess          AgentEventType = "fix_success"           // EventTypeFixSuccess indicates a fix attempt completed successfully.
	EventTypeFixFailed           AgentEventType = "fix_failed"            // EventTypeFixFailed indicates a fix attempt failed after all retries.
	EventTypeFixApprovalRequired AgentEventType = "fix_approval_required" // EventTypeFixApprovalRequired indicates a fix attempt is waiting for operator approval.
	EventTypeAgentStatus         AgentEventType = "agent_status"          // EventTypeAgentStatus indicates a change in the agent's lifecycle state.
	EventTypeScanProgress        AgentEventType = "scan_progress"         // EventTypeScanProgress indicates progress within a multi-tab scan.
	EventTypeScanComplete        AgentEventType = "scan_complete"         // EventTypeScanComplete indicates a multi-tab scan has finished.
)

// AgentEvent represents an event emitted by the agent during operation.
// Events are fire-and-forget: sinks must never block the emitter.
type AgentEvent struct {
	// Type indicates the kind of event.
	Type AgentEventType `json:"type"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// ViolationID identifies the violation record (for violation/fix events).
	ViolationID string `json:"violation_id,omitempty"`

	// AttemptID identifies the fix attempt (for fix events).
	AttemptID string `json:"attempt_id,omitempty"`

	// ViolationKey is the classification key of the violation.
	ViolationKey string `json:"violation_key,omitempty"`

	// Strategy is the name of the strategy handling the violation.
	Strategy string `json:"strategy,omitempty"`

	// DriverName and CompanyName carry display names for notification surfaces.
	DriverName  string `json:"driver_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`

	// State is the agent lifecycle state (for agent status events).
	State string `json:"state,omitempty"`

	// Message holds free-text detail for the event.
	Message string `json:"message,omitempty"`

	// ScanID identifies the scan (for scan events).
	ScanID string `json:"scan_id,omitempty"`

	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewViolationDiscoveredEvent creates a violation discovered event.
func NewViolationDiscoveredEvent(violationID, key, driverName, companyName string) *AgentEvent {
	return &AgentEvent{
		Type:         EventTypeViolationDiscovered,
		Timestamp:    time.Now().UTC(),
		ViolationID:  violationID,
		ViolationKey: key,
		DriverName:   driverName,
		CompanyName:  companyName,
		Metadata:     make(map[string]interface{}),
	}
}

// NewFixStartedEvent creates a fix started event.
func NewFixStartedEvent(violationID, attemptID, strategy string) *AgentEvent {
	return &AgentEvent{
		Type:        EventTypeFixStarted,
		Timestamp:   time.Now().UTC(),
		ViolationID: violationID,
		AttemptID:   attemptID,
		Strategy:    strategy,
		Metadata:    make(map[string]interface{}),
	}
}

// NewFixSuccessEvent creates a fix success event.
func NewFixSuccessEvent(violationID, attemptID, message string) *AgentEvent {
	return &AgentEvent{
		Type:        EventTypeFixSuccess,
		Timestamp:   time.Now().UTC(),
		ViolationID: violationID,
		AttemptID:   attemptID,
		Message:     message,
		Metadata:    make(map[string]interface{}),
	}
}

// NewFixFailedEvent creates a fix failed event.
func NewFixFailedEvent(violationID, attemptID, message string) *AgentEvent {
	return &AgentEvent{
		Type:        EventTypeFixFailed,
		Timestamp:   time.Now().UTC(),
		ViolationID: violationID,
		AttemptID:   attemptID,
		Message:     message,
		Metadata:    make(map[string]interface{}),
	}
}

// NewFixApprovalRequiredEvent creates an approval required event.
func NewFixApprovalRequiredEvent(violationID, attemptID, strategy string) *AgentEvent {
	return &AgentEvent{
		Type:        EventTypeFixApprovalRequired,
		Timestamp:   time.Now().UTC(),
		ViolationID: violationID,
		AttemptID:   attemptID,
		Strategy:    strategy,
		Metadata:    make(map[string]interface{}),
	}
}

// NewAgentStatusEvent creates an agent status event.
func NewAgentStatusEvent(state, message string) *AgentEvent {
	return &AgentEvent{
		Type:      EventTypeAgentStatus,
		Timestamp: time.Now().UTC(),
		State:     state,
		Message:   message,
		Metadata:  make(map[string]interface{}),
	}
}

// NewScanProgressEvent creates a scan progress event.
func NewScanProgressEvent(scanID, message string, percent int) *AgentEvent {
	return &AgentEvent{
		Type:      EventTypeScanProgress,
		Timestamp: time.Now().UTC(),
		ScanID:    scanID,
		Message:   message,
		Metadata:  map[string]interface{}{"percent": percent},
	}
}

// NewScanCompleteEvent creates a scan complete event.
func NewScanCompleteEvent(scanID string, success bool, message string) *AgentEvent {
	return &AgentEvent{
		Type:      EventTypeScanComplete,
		Timestamp: time.Now().UTC(),
		ScanID:    scanID,
		Message:   message,
		Metadata:  map[string]interface{}{"success": success},
	}
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *AgentEvent) WithMetadata(key string, value interface{}) *AgentEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsFixEvent returns true if this is any fix-lifecycle event.
func (e *AgentEvent) IsFixEvent() bool {
	return e.Type == EventTypeFixStarted ||
		e.Type == EventTypeFixSuccess ||
		e.Type == EventTypeFixFailed ||
		e.Type == EventTypeFixApprovalRequired
}

// IsScanEvent returns true if this is any scan-related event.
func (e *AgentEvent) IsScanEvent() bool {
	return e.Type == EventTypeScanProgress ||
		e.Type == EventTypeScanComplete
}

// IsTerminal returns true if the event marks the end of a fix attempt.
func (e *AgentEvent) IsTerminal() bool {
	return e.Type == EventTypeFixSuccess || e.Type == EventTypeFixFailed
}

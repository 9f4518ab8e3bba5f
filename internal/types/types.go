// Package types provides common type definitions for the lead session engine.
package types

// SessionKind identifies which batch operation a session tracks
type SessionKind string

const (
	// KindHunt is bulk lead discovery over a list of targets
	KindHunt SessionKind = "hunt"
	// KindAudit is bulk re-verification of existing leads
	KindAudit SessionKind = "audit"
)

// Valid reports whether k is a known session kind
func (k SessionKind) Valid() bool {
	return k == KindHunt || k == KindAudit
}

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	// StatusPending represents a created session no worker has claimed yet
	StatusPending SessionStatus = "PENDING"
	// StatusProcessing represents a session a worker is iterating
	StatusProcessing SessionStatus = "PROCESSING"
	// StatusCompleted represents a session whose units were all handled
	StatusCompleted SessionStatus = "COMPLETED"
	// StatusFailed represents a session aborted by a loop-fatal error
	StatusFailed SessionStatus = "FAILED"
	// StatusCancelled represents a session stopped cooperatively
	StatusCancelled SessionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses lists the statuses a stuck session can be in
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{StatusPending, StatusProcessing}
}

// LeadTier is the score bucket external consumers branch on
type LeadTier string

const (
	TierHot  LeadTier = "HOT"
	TierWarm LeadTier = "WARM"
	TierCold LeadTier = "COLD"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

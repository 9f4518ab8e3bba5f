package models

import (
	"time"

	"github.com/lead-engine/internal/types"
)

// Session is the lifecycle record shared by hunt and audit sessions.
// SucceededLeads holds successful_leads for hunts and updated_leads for audits.
type Session struct {
	ID                 string              `json:"id" db:"id"`
	Kind               types.SessionKind   `json:"kind" db:"-"`
	Status             types.SessionStatus `json:"status" db:"status"`
	JobID              *string             `json:"jobId,omitempty" db:"job_id"`
	TotalLeads         int                 `json:"totalLeads" db:"total_leads"`
	ProcessedLeads     int                 `json:"processedLeads" db:"processed_leads"`
	SucceededLeads     int                 `json:"-" db:"-"`
	FailedLeads        int                 `json:"failedLeads" db:"failed_leads"`
	LastProcessedIndex int                 `json:"lastProcessedIndex" db:"last_processed_index"`
	CurrentDomain      *string             `json:"currentDomain,omitempty" db:"current_domain"`
	Progress           int                 `json:"progress" db:"progress"`
	Error              *string             `json:"error,omitempty" db:"error"`
	StartedAt          *time.Time          `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt          time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time           `json:"updatedAt" db:"updated_at"`
}

// ComputeProgress derives the integer percentage from the counters
func ComputeProgress(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 100 {
		return 100
	}
	return p
}

// HuntSession is a discovery session over an ordered list of targets
type HuntSession struct {
	Session
	Targets []string `json:"targets" db:"targets"`
}

// SuccessfulLeads is the number of targets that produced a lead
func (h *HuntSession) SuccessfulLeads() int {
	return h.SucceededLeads
}

// HuntSessionView is the JSON shape returned to API clients
type HuntSessionView struct {
	*Session
	SuccessfulLeads int `json:"successfulLeads"`
	TargetCount     int `json:"targetCount"`
}

// View returns the client-facing representation
func (h *HuntSession) View() *HuntSessionView {
	return &HuntSessionView{
		Session:         &h.Session,
		SuccessfulLeads: h.SucceededLeads,
		TargetCount:     len(h.Targets),
	}
}

// AuditSession is a re-verification session over leads created at or before SnapshotAt
type AuditSession struct {
	Session
	SnapshotAt time.Time `json:"snapshotAt" db:"snapshot_at"`
}

// UpdatedLeads is the number of leads whose stored state changed
func (a *AuditSession) UpdatedLeads() int {
	return a.SucceededLeads
}

// AuditSessionView is the JSON shape returned to API clients
type AuditSessionView struct {
	*Session
	UpdatedLeads int       `json:"updatedLeads"`
	SnapshotAt   time.Time `json:"snapshotAt"`
}

// View returns the client-facing representation
func (a *AuditSession) View() *AuditSessionView {
	return &AuditSessionView{
		Session:      &a.Session,
		UpdatedLeads: a.SucceededLeads,
		SnapshotAt:   a.SnapshotAt,
	}
}

// JobPayload is the body submitted to the durable queue for a session
type JobPayload struct {
	SessionID string            `json:"sessionId"`
	Kind      types.SessionKind `json:"kind"`
}

// UnitOutcome classifies the result of one unit of work
type UnitOutcome int

const (
	// OutcomeProcessed is a handled unit that produced no success (skipped target, unchanged lead)
	OutcomeProcessed UnitOutcome = iota
	// OutcomeSucceeded is a discovered lead (hunt) or a changed lead (audit)
	OutcomeSucceeded
	// OutcomeFailed is a unit whose domain action returned an error
	OutcomeFailed
)

// Deltas returns the counter increments the outcome contributes
func (o UnitOutcome) Deltas() (processed, succeeded, failed int) {
	switch o {
	case OutcomeSucceeded:
		return 1, 1, 0
	case OutcomeFailed:
		return 0, 0, 1
	default:
		return 1, 0, 0
	}
}

func (o UnitOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "processed"
	}
}

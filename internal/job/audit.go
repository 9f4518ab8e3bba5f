package job

import (
	"context"
	"fmt"
	"time"

	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/scoring"
	"github.com/lead-engine/internal/types"
)

// AuditSnapshotSource returns the cut-off time of an audit session
type AuditSnapshotSource interface {
	GetAudit(ctx context.Context, id string) (*models.AuditSession, error)
}

// AuditLeadStore pages and rewrites the leads under audit
type AuditLeadStore interface {
	ListForAudit(ctx context.Context, snapshotAt time.Time, offset, limit int) ([]*models.Lead, error)
	UpdateVerification(ctx context.Context, lead *models.Lead) error
	TouchVerified(ctx context.Context, id string) error
}

// AuditDomain re-verifies every lead created at or before the session's snapshot
type AuditDomain struct {
	sessions AuditSnapshotSource
	leads    AuditLeadStore
	enricher Enricher
}

// NewAuditDomain creates the audit domain
func NewAuditDomain(sessions AuditSnapshotSource, leads AuditLeadStore, enricher Enricher) *AuditDomain {
	return &AuditDomain{sessions: sessions, leads: leads, enricher: enricher}
}

// Kind returns KindAudit
func (a *AuditDomain) Kind() types.SessionKind {
	return types.KindAudit
}

// Units pages the frozen lead set in (created_at, id) order
func (a *AuditDomain) Units(ctx context.Context, session *models.Session, offset, limit int) ([]Unit, error) {
	audit, err := a.sessions.GetAudit(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	leads, err := a.leads.ListForAudit(ctx, audit.SnapshotAt, offset, limit)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, len(leads))
	for i, lead := range leads {
		units[i] = Unit{Domain: lead.Domain, Lead: lead}
	}
	return units, nil
}

// Process re-enriches and re-scores the lead. A lead whose score, tier or
// enrichment changed is written back and counted as updated.
func (a *AuditDomain) Process(ctx context.Context, _ *models.Session, unit Unit) (models.UnitOutcome, error) {
	stored := unit.Lead
	if stored == nil {
		return models.OutcomeFailed, fmt.Errorf("audit unit %q has no lead", unit.Domain)
	}

	enrichment, err := a.enricher.Enrich(ctx, stored.Domain)
	if err != nil {
		return models.OutcomeFailed, fmt.Errorf("verify %s: %w", stored.Domain, err)
	}

	fresh := *stored
	fresh.Enrichment = *enrichment
	scoring.Apply(&fresh)

	changed := fresh.Score != stored.Score ||
		fresh.Status != stored.Status ||
		!fresh.Enrichment.SameAs(&stored.Enrichment)

	if !changed {
		if err := a.leads.TouchVerified(ctx, stored.ID); err != nil {
			return models.OutcomeFailed, err
		}
		return models.OutcomeProcessed, nil
	}

	if err := a.leads.UpdateVerification(ctx, &fresh); err != nil {
		return models.OutcomeFailed, err
	}
	return models.OutcomeSucceeded, nil
}

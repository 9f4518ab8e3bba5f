package job

import (
	"context"
	"fmt"

	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/scoring"
	"github.com/lead-engine/internal/types"
	"github.com/lead-engine/internal/validation"
)

// Enricher fetches the enrichment attributes of a domain.
// Calling it twice for an unchanged site yields the same result.
type Enricher interface {
	Enrich(ctx context.Context, domain string) (*models.Enrichment, error)
}

// HuntTargetSource pages the ordered targets of a hunt session
type HuntTargetSource interface {
	HuntTargets(ctx context.Context, id string, offset, limit int) ([]string, error)
}

// LeadUpserter persists a discovered lead keyed by domain
type LeadUpserter interface {
	Upsert(ctx context.Context, lead *models.Lead) (bool, error)
}

// HuntDomain discovers one lead per valid target
type HuntDomain struct {
	targets  HuntTargetSource
	leads    LeadUpserter
	enricher Enricher
}

// NewHuntDomain creates the hunt domain
func NewHuntDomain(targets HuntTargetSource, leads LeadUpserter, enricher Enricher) *HuntDomain {
	return &HuntDomain{targets: targets, leads: leads, enricher: enricher}
}

// Kind returns KindHunt
func (h *HuntDomain) Kind() types.SessionKind {
	return types.KindHunt
}

// Units pages the session's targets
func (h *HuntDomain) Units(ctx context.Context, session *models.Session, offset, limit int) ([]Unit, error) {
	targets, err := h.targets.HuntTargets(ctx, session.ID, offset, limit)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, len(targets))
	for i, target := range targets {
		domain, ok := validation.NormalizeTarget(target)
		if !ok {
			domain = target
		}
		units[i] = Unit{Domain: domain, Target: target}
	}
	return units, nil
}

// Process skips targets that fail validation, otherwise enriches, scores
// and upserts the lead.
func (h *HuntDomain) Process(ctx context.Context, session *models.Session, unit Unit) (models.UnitOutcome, error) {
	domain, ok := validation.NormalizeTarget(unit.Target)
	if !ok || !validation.IsValidDomain(domain) {
		return models.OutcomeProcessed, nil
	}

	enrichment, err := h.enricher.Enrich(ctx, domain)
	if err != nil {
		return models.OutcomeFailed, fmt.Errorf("enrich %s: %w", domain, err)
	}

	sessionID := session.ID
	lead := &models.Lead{
		Domain:          domain,
		Enrichment:      *enrichment,
		SourceSessionID: &sessionID,
	}
	scoring.Apply(lead)

	if _, err := h.leads.Upsert(ctx, lead); err != nil {
		return models.OutcomeFailed, err
	}
	return models.OutcomeSucceeded, nil
}

// Package scoring maps a lead's enrichment attributes to a score and tier.
//
// The weights and tier thresholds are part of the public contract: external
// consumers branch on the tier, so they are fixed constants, not configuration.
package scoring

import (
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/types"
)

// Score weights. Order of signals does not matter.
const (
	BaselineScore = 50

	EmailWeight           = 20
	PhoneWeight           = 10
	AdditionalEmailWeight = 5
	TechnologyWeight      = 5
	SocialProfileWeight   = 5
	CompanyInfoWeight     = 5

	MinScore = 0
	MaxScore = 100
)

// Tier thresholds
const (
	HotThreshold  = 75
	WarmThreshold = 50
)

// CalculateLeadScore returns a score in [MinScore, MaxScore].
// Identical input always yields the identical score.
func CalculateLeadScore(e *models.Enrichment) int {
	score := BaselineScore
	if e == nil {
		return score
	}

	if e.Email != "" {
		score += EmailWeight
	}
	if len(e.PhoneNumbers) > 0 {
		score += PhoneWeight
	}
	if len(e.AdditionalEmails) > 0 {
		score += AdditionalEmailWeight
	}
	if len(e.Technologies) > 0 {
		score += TechnologyWeight
	}
	if len(e.SocialProfiles) > 0 {
		score += SocialProfileWeight
	}
	if e.CompanyInfo != nil {
		score += CompanyInfoWeight
	}

	return clamp(score)
}

// DetermineLeadStatus buckets a score into a tier
func DetermineLeadStatus(score int) types.LeadTier {
	switch {
	case score >= HotThreshold:
		return types.TierHot
	case score >= WarmThreshold:
		return types.TierWarm
	default:
		return types.TierCold
	}
}

// Apply recomputes score and tier on the lead from its enrichment
func Apply(lead *models.Lead) {
	lead.Score = CalculateLeadScore(&lead.Enrichment)
	lead.Status = DetermineLeadStatus(lead.Score)
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

package models

import (
	"time"

	"github.com/lead-engine/internal/types"
)

// CompanyInfo is the company metadata scraped from a lead's site
type CompanyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Enrichment holds the attributes the scorer consumes
type Enrichment struct {
	Email            string            `json:"email,omitempty"`
	AdditionalEmails []string          `json:"additionalEmails,omitempty"`
	PhoneNumbers     []string          `json:"phoneNumbers,omitempty"`
	Technologies     []string          `json:"technologies,omitempty"`
	SocialProfiles   map[string]string `json:"socialProfiles,omitempty"`
	CompanyInfo      *CompanyInfo      `json:"companyInfo,omitempty"`
}

// Lead is one discovered company, keyed by domain
type Lead struct {
	ID              string         `json:"id" db:"id"`
	Domain          string         `json:"domain" db:"domain"`
	Enrichment                     // flattened into columns by the repository
	Score           int            `json:"score" db:"score"`
	Status          types.LeadTier `json:"status" db:"status"`
	SourceSessionID *string        `json:"sourceSessionId,omitempty" db:"source_session_id"`
	LastVerifiedAt  *time.Time     `json:"lastVerifiedAt,omitempty" db:"last_verified_at"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// SameAs reports whether two enrichment results would store identical lead state
func (e *Enrichment) SameAs(other *Enrichment) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Email != other.Email ||
		!equalStrings(e.AdditionalEmails, other.AdditionalEmails) ||
		!equalStrings(e.PhoneNumbers, other.PhoneNumbers) ||
		!equalStrings(e.Technologies, other.Technologies) {
		return false
	}
	if len(e.SocialProfiles) != len(other.SocialProfiles) {
		return false
	}
	for k, v := range e.SocialProfiles {
		if other.SocialProfiles[k] != v {
			return false
		}
	}
	switch {
	case e.CompanyInfo == nil && other.CompanyInfo == nil:
		return true
	case e.CompanyInfo == nil || other.CompanyInfo == nil:
		return false
	default:
		return *e.CompanyInfo == *other.CompanyInfo
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

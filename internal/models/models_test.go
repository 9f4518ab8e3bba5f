package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{7, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeProgress(tt.processed, tt.total), "ComputeProgress(%d, %d)", tt.processed, tt.total)
	}
}

func TestComputeProgressProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("progress stays within 0..100 and grows with processed", prop.ForAll(
		func(total, processed int) bool {
			if processed > total {
				processed = total
			}
			p := ComputeProgress(processed, total)
			next := ComputeProgress(processed+1, total)
			return p >= 0 && p <= 100 && next >= p
		},
		gen.IntRange(1, 10000),
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

func TestUnitOutcomeDeltas(t *testing.T) {
	tests := []struct {
		outcome                      UnitOutcome
		processed, succeeded, failed int
		name                         string
	}{
		{OutcomeProcessed, 1, 0, 0, "processed"},
		{OutcomeSucceeded, 1, 1, 0, "succeeded"},
		{OutcomeFailed, 0, 0, 1, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, s, f := tt.outcome.Deltas()
			assert.Equal(t, tt.processed, p)
			assert.Equal(t, tt.succeeded, s)
			assert.Equal(t, tt.failed, f)
			assert.Equal(t, tt.name, tt.outcome.String())
		})
	}
}

func TestEnrichmentSameAs(t *testing.T) {
	base := func() *Enrichment {
		return &Enrichment{
			Email:            "sales@acme.example",
			AdditionalEmails: []string{"support@acme.example"},
			PhoneNumbers:     []string{"+15550102000"},
			Technologies:     []string{"WordPress"},
			SocialProfiles:   map[string]string{"linkedin": "https://linkedin.com/company/acme"},
			CompanyInfo:      &CompanyInfo{Name: "Acme"},
		}
	}

	assert.True(t, base().SameAs(base()))
	assert.True(t, (*Enrichment)(nil).SameAs(nil))
	assert.False(t, base().SameAs(nil))
	assert.True(t, (&Enrichment{}).SameAs(&Enrichment{AdditionalEmails: []string{}}))

	mutations := map[string]func(e *Enrichment){
		"email":        func(e *Enrichment) { e.Email = "hello@acme.example" },
		"phones":       func(e *Enrichment) { e.PhoneNumbers = nil },
		"technologies": func(e *Enrichment) { e.Technologies = append(e.Technologies, "jQuery") },
		"social":       func(e *Enrichment) { e.SocialProfiles["twitter"] = "https://x.com/acme" },
		"company":      func(e *Enrichment) { e.CompanyInfo = &CompanyInfo{Name: "Acme Inc"} },
		"no company":   func(e *Enrichment) { e.CompanyInfo = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changed := base()
			mutate(changed)
			assert.False(t, base().SameAs(changed))
			assert.False(t, changed.SameAs(base()))
		})
	}
}

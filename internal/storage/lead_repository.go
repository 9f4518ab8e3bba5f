package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lead-engine/internal/models"
)

// ErrLeadNotFound is returned when no lead row matches
var ErrLeadNotFound = errors.New("lead not found")

const leadColumns = `
	id, domain, email, additional_emails, phone_numbers, technologies,
	social_profiles, company_info, score, status, source_session_id,
	last_verified_at, created_at, updated_at
`

// LeadRepository handles lead persistence. Leads are keyed by domain.
type LeadRepository struct {
	db *PostgresDB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *PostgresDB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Upsert inserts the lead or overwrites the enrichment of the existing row
// with the same domain. It reports whether a new row was created. Repeating
// the call with the same lead leaves the row in the same state.
func (r *LeadRepository) Upsert(ctx context.Context, lead *models.Lead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}

	socialJSON, companyJSON, err := marshalEnrichment(&lead.Enrichment)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO leads (
			id, domain, email, additional_emails, phone_numbers, technologies,
			social_profiles, company_info, score, status, source_session_id,
			last_verified_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), NOW())
		ON CONFLICT (domain) DO UPDATE SET
			email = EXCLUDED.email,
			additional_emails = EXCLUDED.additional_emails,
			phone_numbers = EXCLUDED.phone_numbers,
			technologies = EXCLUDED.technologies,
			social_profiles = EXCLUDED.social_profiles,
			company_info = EXCLUDED.company_info,
			score = EXCLUDED.score,
			status = EXCLUDED.status,
			last_verified_at = NOW(),
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err = r.db.Pool().QueryRow(ctx, query,
		lead.ID,
		lead.Domain,
		lead.Email,
		nonNil(lead.AdditionalEmails),
		nonNil(lead.PhoneNumbers),
		nonNil(lead.Technologies),
		socialJSON,
		companyJSON,
		lead.Score,
		lead.Status,
		lead.SourceSessionID,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert lead %s: %w", lead.Domain, err)
	}

	return inserted, nil
}

// GetByDomain retrieves a lead by its domain
func (r *LeadRepository) GetByDomain(ctx context.Context, domain string) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE domain = $1`

	lead, err := scanLead(r.db.Pool().QueryRow(ctx, query, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return lead, nil
}

// Now returns the database clock used to stamp created_at
func (r *LeadRepository) Now(ctx context.Context) (time.Time, error) {
	return r.db.Now(ctx)
}

// CountForAudit counts leads created at or before snapshotAt
func (r *LeadRepository) CountForAudit(ctx context.Context, snapshotAt time.Time) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE created_at <= $1`, snapshotAt,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return count, nil
}

// ListForAudit pages leads created at or before snapshotAt in a stable
// (created_at, id) order so a cursor offset always names the same lead.
func (r *LeadRepository) ListForAudit(ctx context.Context, snapshotAt time.Time, offset, limit int) ([]*models.Lead, error) {
	query := `SELECT ` + leadColumns + `
		FROM leads
		WHERE created_at <= $1
		ORDER BY created_at ASC, id ASC
		OFFSET $2 LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, snapshotAt, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

// UpdateVerification stores the re-verified enrichment, score and tier
func (r *LeadRepository) UpdateVerification(ctx context.Context, lead *models.Lead) error {
	socialJSON, companyJSON, err := marshalEnrichment(&lead.Enrichment)
	if err != nil {
		return err
	}

	query := `
		UPDATE leads
		SET email = $2, additional_emails = $3, phone_numbers = $4, technologies = $5,
			social_profiles = $6, company_info = $7, score = $8, status = $9,
			last_verified_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		lead.ID,
		lead.Email,
		nonNil(lead.AdditionalEmails),
		nonNil(lead.PhoneNumbers),
		nonNil(lead.Technologies),
		socialJSON,
		companyJSON,
		lead.Score,
		lead.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", lead.Domain, err)
	}
	if result.RowsAffected() == 0 {
		return ErrLeadNotFound
	}

	return nil
}

// TouchVerified stamps last_verified_at on a lead whose state did not change
func (r *LeadRepository) TouchVerified(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE leads SET last_verified_at = NOW() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch lead: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func marshalEnrichment(e *models.Enrichment) (social, company []byte, err error) {
	if len(e.SocialProfiles) > 0 {
		social, err = json.Marshal(e.SocialProfiles)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal social profiles: %w", err)
		}
	}
	if e.CompanyInfo != nil {
		company, err = json.Marshal(e.CompanyInfo)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal company info: %w", err)
		}
	}
	return social, company, nil
}

func scanLead(row pgx.Row) (*models.Lead, error) {
	var lead models.Lead
	var socialJSON, companyJSON []byte

	err := row.Scan(
		&lead.ID,
		&lead.Domain,
		&lead.Email,
		&lead.AdditionalEmails,
		&lead.PhoneNumbers,
		&lead.Technologies,
		&socialJSON,
		&companyJSON,
		&lead.Score,
		&lead.Status,
		&lead.SourceSessionID,
		&lead.LastVerifiedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(socialJSON) > 0 {
		if err := json.Unmarshal(socialJSON, &lead.SocialProfiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal social profiles: %w", err)
		}
	}
	if len(companyJSON) > 0 {
		var info models.CompanyInfo
		if err := json.Unmarshal(companyJSON, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal company info: %w", err)
		}
		lead.CompanyInfo = &info
	}
	normalizeEmpty(&lead.Enrichment)

	return &lead, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// normalizeEmpty maps empty arrays read back from Postgres to nil so a
// stored lead compares equal to a freshly parsed one.
func normalizeEmpty(e *models.Enrichment) {
	if len(e.AdditionalEmails) == 0 {
		e.AdditionalEmails = nil
	}
	if len(e.PhoneNumbers) == 0 {
		e.PhoneNumbers = nil
	}
	if len(e.Technologies) == 0 {
		e.Technologies = nil
	}
	if len(e.SocialProfiles) == 0 {
		e.SocialProfiles = nil
	}
}

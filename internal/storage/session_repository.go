package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/types"
)

// ErrSessionNotFound is returned when no session row has the requested id
var ErrSessionNotFound = errors.New("session not found")

type sessionTable struct {
	name          string
	successColumn string
}

var sessionTables = map[types.SessionKind]sessionTable{
	types.KindHunt:  {name: "hunt_sessions", successColumn: "successful_leads"},
	types.KindAudit: {name: "audit_sessions", successColumn: "updated_leads"},
}

func tableFor(kind types.SessionKind) (sessionTable, error) {
	t, ok := sessionTables[kind]
	if !ok {
		return sessionTable{}, fmt.Errorf("unknown session kind: %q", kind)
	}
	return t, nil
}

func (t sessionTable) lifecycleColumns() string {
	return "id, status, job_id, total_leads, processed_leads, " + t.successColumn +
		", failed_leads, last_processed_index, current_domain, progress, error," +
		" started_at, completed_at, created_at, updated_at"
}

// SessionRepository handles hunt and audit session persistence.
// Every status write is conditional so a terminal row is never changed.
type SessionRepository struct {
	db *PostgresDB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateHunt inserts a PENDING hunt session with its ordered targets
func (r *SessionRepository) CreateHunt(ctx context.Context, s *models.HuntSession) error {
	prepareNew(&s.Session, types.KindHunt, len(s.Targets))

	query := `
		INSERT INTO hunt_sessions (id, status, targets, total_leads, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		s.ID,
		s.Status,
		s.Targets,
		s.TotalLeads,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hunt session: %w", err)
	}

	return nil
}

// CreateAudit inserts a PENDING audit session. TotalLeads must already hold
// the number of leads created at or before SnapshotAt.
func (r *SessionRepository) CreateAudit(ctx context.Context, s *models.AuditSession) error {
	prepareNew(&s.Session, types.KindAudit, s.TotalLeads)

	query := `
		INSERT INTO audit_sessions (id, status, snapshot_at, total_leads, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		s.ID,
		s.Status,
		s.SnapshotAt,
		s.TotalLeads,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit session: %w", err)
	}

	return nil
}

func prepareNew(s *models.Session, kind types.SessionKind, total int) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.Kind = kind
	s.Status = types.StatusPending
	s.TotalLeads = total
	s.CreatedAt = now
	s.UpdatedAt = now
}

// SetJobID records the queue job backing a session
func (r *SessionRepository) SetJobID(ctx context.Context, kind types.SessionKind, id, jobID string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET job_id = $2, updated_at = NOW() WHERE id = $1`, t.name)

	result, err := r.db.Pool().Exec(ctx, query, id, jobID)
	if err != nil {
		return fmt.Errorf("failed to set job id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// Get loads the lifecycle columns of a session
func (r *SessionRepository) Get(ctx context.Context, kind types.SessionKind, id string) (*models.Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.lifecycleColumns(), t.name)

	s, err := scanSession(r.db.Pool().QueryRow(ctx, query, id), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get %s session: %w", kind, err)
	}

	return s, nil
}

// GetStatus reads only the status column. It is never cached.
func (r *SessionRepository) GetStatus(ctx context.Context, kind types.SessionKind, id string) (types.SessionStatus, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, t.name)

	var status types.SessionStatus
	if err := r.db.Pool().QueryRow(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get session status: %w", err)
	}

	return status, nil
}

// GetHunt loads a hunt session including its targets
func (r *SessionRepository) GetHunt(ctx context.Context, id string) (*models.HuntSession, error) {
	t := sessionTables[types.KindHunt]
	query := fmt.Sprintf(`SELECT %s, targets FROM %s WHERE id = $1`, t.lifecycleColumns(), t.name)

	var targets []string
	s, err := scanSession(r.db.Pool().QueryRow(ctx, query, id), types.KindHunt, &targets)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get hunt session: %w", err)
	}

	return &models.HuntSession{Session: *s, Targets: targets}, nil
}

// GetAudit loads an audit session including its snapshot time
func (r *SessionRepository) GetAudit(ctx context.Context, id string) (*models.AuditSession, error) {
	t := sessionTables[types.KindAudit]
	query := fmt.Sprintf(`SELECT %s, snapshot_at FROM %s WHERE id = $1`, t.lifecycleColumns(), t.name)

	var snapshotAt time.Time
	s, err := scanSession(r.db.Pool().QueryRow(ctx, query, id), types.KindAudit, &snapshotAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get audit session: %w", err)
	}

	return &models.AuditSession{Session: *s, SnapshotAt: snapshotAt}, nil
}

// HuntTargets returns up to limit targets starting at the zero-based offset
func (r *SessionRepository) HuntTargets(ctx context.Context, id string, offset, limit int) ([]string, error) {
	// Postgres array slices are 1-based and inclusive
	query := `SELECT COALESCE(targets[$2:$3], '{}') FROM hunt_sessions WHERE id = $1`

	var targets []string
	err := r.db.Pool().QueryRow(ctx, query, id, offset+1, offset+limit).Scan(&targets)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load hunt targets: %w", err)
	}

	return targets, nil
}

// MarkProcessing moves a PENDING session to PROCESSING and stamps started_at.
// It reports false when the row was not PENDING, which includes a resume.
func (r *SessionRepository) MarkProcessing(ctx context.Context, kind types.SessionKind, id string) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'PROCESSING', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, t.name)

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark session processing: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// RecordUnit advances the counters, the cursor and progress in one statement.
// The write only lands while the row is PROCESSING with last_processed_index
// equal to expectedIndex; it reports false otherwise.
func (r *SessionRepository) RecordUnit(
	ctx context.Context,
	kind types.SessionKind,
	id string,
	expectedIndex int,
	outcome models.UnitOutcome,
	currentDomain string,
) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	processed, succeeded, failed := outcome.Deltas()

	var domain *string
	if currentDomain != "" {
		domain = &currentDomain
	}

	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET processed_leads = processed_leads + $3,
			%[2]s = %[2]s + $4,
			failed_leads = failed_leads + $5,
			last_processed_index = last_processed_index + 1,
			current_domain = COALESCE($6::text, current_domain),
			progress = CASE
				WHEN total_leads > 0 THEN LEAST(100, (processed_leads + $3) * 100 / total_leads)
				ELSE 0
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING' AND last_processed_index = $2
	`, t.name, t.successColumn)

	result, err := r.db.Pool().Exec(ctx, query, id, expectedIndex, processed, succeeded, failed, domain)
	if err != nil {
		return false, fmt.Errorf("failed to record unit: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Finalize moves a non-terminal session to status and stamps completed_at.
// errMsg is stored only when status is FAILED. It reports false when the
// row was already terminal.
func (r *SessionRepository) Finalize(
	ctx context.Context,
	kind types.SessionKind,
	id string,
	status types.SessionStatus,
	errMsg string,
) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize session with non-terminal status %s", status)
	}
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	var message *string
	if status == types.StatusFailed && errMsg != "" {
		message = &errMsg
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, error = COALESCE($3::text, error), completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, t.name)

	result, err := r.db.Pool().Exec(ctx, query, id, status, message)
	if err != nil {
		return false, fmt.Errorf("failed to finalize session: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ListByStatus returns sessions in any of statuses, oldest first
func (r *SessionRepository) ListByStatus(
	ctx context.Context,
	kind types.SessionKind,
	statuses []types.SessionStatus,
	limit int,
) ([]*models.Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`, t.lifecycleColumns(), t.name)

	rows, err := r.db.Pool().Query(ctx, query, wanted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row, kind types.SessionKind, extra ...any) (*models.Session, error) {
	var s models.Session
	dest := []any{
		&s.ID,
		&s.Status,
		&s.JobID,
		&s.TotalLeads,
		&s.ProcessedLeads,
		&s.SucceededLeads,
		&s.FailedLeads,
		&s.LastProcessedIndex,
		&s.CurrentDomain,
		&s.Progress,
		&s.Error,
		&s.StartedAt,
		&s.CompletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.Kind = kind
	return &s, nil
}

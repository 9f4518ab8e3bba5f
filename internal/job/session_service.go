package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lead-engine/internal/errors"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/storage"
	"github.com/lead-engine/internal/types"
)

// MaxHuntTargets bounds the input of a single hunt session
const MaxHuntTargets = 10000

// SessionCatalog is the store contract of the session service.
// *storage.SessionRepository satisfies it.
type SessionCatalog interface {
	CreateHunt(ctx context.Context, s *models.HuntSession) error
	CreateAudit(ctx context.Context, s *models.AuditSession) error
	SetJobID(ctx context.Context, kind types.SessionKind, id, jobID string) error
	GetHunt(ctx context.Context, id string) (*models.HuntSession, error)
	GetAudit(ctx context.Context, id string) (*models.AuditSession, error)
	Finalize(ctx context.Context, kind types.SessionKind, id string, status types.SessionStatus, errMsg string) (bool, error)
}

// LeadCounter counts the leads an audit will cover. Now reads the clock of
// the store that stamps lead created_at, so the snapshot and the rows agree.
type LeadCounter interface {
	Now(ctx context.Context) (time.Time, error)
	CountForAudit(ctx context.Context, snapshotAt time.Time) (int, error)
}

// SessionService creates sessions, dispatches their jobs and exposes them upward
type SessionService struct {
	sessions   SessionCatalog
	leads      LeadCounter
	queues     *queue.Manager
	huntQueue  string
	auditQueue string
	metrics    *metrics.Metrics
}

// NewSessionService creates a session service submitting to the named queues
func NewSessionService(
	sessions SessionCatalog,
	leads LeadCounter,
	queues *queue.Manager,
	huntQueue, auditQueue string,
	m *metrics.Metrics,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		leads:      leads,
		queues:     queues,
		huntQueue:  huntQueue,
		auditQueue: auditQueue,
		metrics:    m,
	}
}

// CreateHunt stores a PENDING hunt over targets and submits its job
func (s *SessionService) CreateHunt(ctx context.Context, targets []string) (*models.HuntSession, error) {
	cleaned, err := cleanTargets(targets)
	if err != nil {
		return nil, err
	}

	session := &models.HuntSession{Targets: cleaned}
	if err := s.sessions.CreateHunt(ctx, session); err != nil {
		return nil, apperrors.NewDatabaseError("create hunt session", err)
	}

	if err := s.dispatch(ctx, &session.Session, s.huntQueue); err != nil {
		return nil, err
	}
	return session, nil
}

// CreateAudit freezes the current lead set, stores a PENDING audit and submits its job
func (s *SessionService) CreateAudit(ctx context.Context) (*models.AuditSession, error) {
	snapshotAt, err := s.leads.Now(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("read snapshot time", err)
	}
	snapshotAt = snapshotAt.UTC()

	total, err := s.leads.CountForAudit(ctx, snapshotAt)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count leads", err)
	}

	session := &models.AuditSession{SnapshotAt: snapshotAt}
	session.TotalLeads = total
	if err := s.sessions.CreateAudit(ctx, session); err != nil {
		return nil, apperrors.NewDatabaseError("create audit session", err)
	}

	if err := s.dispatch(ctx, &session.Session, s.auditQueue); err != nil {
		return nil, err
	}
	return session, nil
}

// dispatch submits the session's job and records its id. A failed
// submission finalizes the session FAILED since no worker will ever see it.
func (s *SessionService) dispatch(ctx context.Context, session *models.Session, queueName string) error {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"session_id": session.ID,
		"kind":       string(session.Kind),
		"queue":      queueName,
	})

	job, err := s.queues.Queue(queueName).Submit(ctx, models.JobPayload{
		SessionID: session.ID,
		Kind:      session.Kind,
	})
	if err != nil {
		msg := fmt.Sprintf("queue submission failed: %v", err)
		if _, ferr := s.sessions.Finalize(ctx, session.Kind, session.ID, types.StatusFailed, msg); ferr != nil {
			log.WithError(ferr).Error("Failed to finalize session after submission failure")
		} else {
			session.Status = types.StatusFailed
			session.Error = &msg
		}
		return apperrors.NewQueueError(queueName, "submit", err)
	}
	s.metrics.ObserveSubmitted(queueName)

	jobID := job.ID
	session.JobID = &jobID
	if err := s.sessions.SetJobID(ctx, session.Kind, session.ID, jobID); err != nil {
		// The job is already queued and will run; only the reference is lost.
		log.WithError(err).WithField("job_id", jobID).Warn("Failed to record job id")
	}

	log.WithField("job_id", jobID).Info("Session submitted")
	return nil
}

// GetHunt returns the full hunt session row
func (s *SessionService) GetHunt(ctx context.Context, id string) (*models.HuntSession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetHunt(ctx, id)
	if err != nil {
		return nil, mapStoreError(types.KindHunt, id, err)
	}
	return session, nil
}

// GetAudit returns the full audit session row
func (s *SessionService) GetAudit(ctx context.Context, id string) (*models.AuditSession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetAudit(ctx, id)
	if err != nil {
		return nil, mapStoreError(types.KindAudit, id, err)
	}
	return session, nil
}

// CancelAudit sets a non-terminal audit to CANCELLED. The running worker
// observes it before its next unit. A terminal audit yields a conflict.
func (s *SessionService) CancelAudit(ctx context.Context, id string) (*models.AuditSession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}

	changed, err := s.sessions.Finalize(ctx, types.KindAudit, id, types.StatusCancelled, "")
	if err != nil {
		return nil, apperrors.NewDatabaseError("cancel audit session", err)
	}

	session, err := s.sessions.GetAudit(ctx, id)
	if err != nil {
		return nil, mapStoreError(types.KindAudit, id, err)
	}
	if !changed {
		return nil, apperrors.NewSessionTerminalError(id, session.Status)
	}

	logging.FromContext(ctx).WithField("session_id", id).Info("Audit cancellation requested")
	return session, nil
}

func cleanTargets(targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, apperrors.NewInvalidParameterError("targets", "at least one target is required")
	}
	if len(targets) > MaxHuntTargets {
		return nil, apperrors.NewInvalidParameterError("targets",
			fmt.Sprintf("at most %d targets are allowed", MaxHuntTargets))
	}

	cleaned := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return nil, apperrors.NewInvalidParameterError("targets", "all targets are blank")
	}
	return cleaned, nil
}

func validateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewInvalidParameterError("id", "must be a UUID")
	}
	return nil
}

func mapStoreError(kind types.SessionKind, id string, err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return apperrors.NewSessionNotFoundError(kind, id)
	}
	return apperrors.NewDatabaseError(fmt.Sprintf("get %s session", kind), err)
}

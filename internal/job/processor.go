// Package job runs hunt and audit sessions against the session store and
// the durable queue, and repairs sessions left open by dead workers.
package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/types"
)

// ErrCursorConflict is returned when the cursor guard misses on a row that
// is still open, meaning another writer advanced the same session.
var ErrCursorConflict = errors.New("session cursor conflict")

// DefaultBatchSize is the number of units loaded per page
const DefaultBatchSize = 100

// SessionStore is the persistence contract the processor and sweeper rely on.
// *storage.SessionRepository satisfies it.
type SessionStore interface {
	StatusReader
	Get(ctx context.Context, kind types.SessionKind, id string) (*models.Session, error)
	MarkProcessing(ctx context.Context, kind types.SessionKind, id string) (bool, error)
	RecordUnit(ctx context.Context, kind types.SessionKind, id string, expectedIndex int, outcome models.UnitOutcome, currentDomain string) (bool, error)
	Finalize(ctx context.Context, kind types.SessionKind, id string, status types.SessionStatus, errMsg string) (bool, error)
	ListByStatus(ctx context.Context, kind types.SessionKind, statuses []types.SessionStatus, limit int) ([]*models.Session, error)
}

// Unit is one item of a session's ordered input
type Unit struct {
	// Domain is reported as the session's currentDomain
	Domain string
	// Target is the raw hunt input
	Target string
	// Lead is the stored lead under audit
	Lead *models.Lead
}

// Domain supplies the units and the per-unit action of one session kind
type Domain interface {
	Kind() types.SessionKind
	// Units returns up to limit units from the zero-based offset. An empty
	// slice means the input is exhausted.
	Units(ctx context.Context, session *models.Session, offset, limit int) ([]Unit, error)
	// Process performs the domain action. A returned error counts the unit as failed.
	Process(ctx context.Context, session *models.Session, unit Unit) (models.UnitOutcome, error)
}

// Canceller decides whether a session must stop before its next unit
type Canceller interface {
	ShouldStop(ctx context.Context, sessionID string, job JobHandle) (bool, error)
}

// Processor is the sequential per-session loop shared by hunts and audits
type Processor struct {
	store     SessionStore
	domain    Domain
	cancel    Canceller
	batchSize int
	metrics   *metrics.Metrics
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithBatchSize sets the page size used to load units
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMetrics records unit and terminal counters on m
func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor creates a processor for domain
func NewProcessor(store SessionStore, domain Domain, cancel Canceller, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:     store,
		domain:    domain,
		cancel:    cancel,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind returns the session kind the processor handles
func (p *Processor) Kind() types.SessionKind {
	return p.domain.Kind()
}

// Run executes a session from its persisted cursor until the input is
// exhausted, cancellation is observed, or a loop-fatal error occurs. A
// loop-fatal error finalizes the session FAILED and is returned so the
// queue job fails. Context cancellation leaves the session PROCESSING and
// returns the context error; the next claim of the job resumes at the cursor.
func (p *Processor) Run(ctx context.Context, sessionID string, job JobHandle) error {
	kind := p.domain.Kind()
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"session_id": sessionID,
		"kind":       string(kind),
	})

	session, err := p.store.Get(ctx, kind, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load %s session %s: %w", kind, sessionID, err)
	}
	if session.Status.IsTerminal() {
		log.WithField("status", string(session.Status)).Info("Session already terminal, acknowledging without work")
		return nil
	}

	started, err := p.store.MarkProcessing(ctx, kind, sessionID)
	if err != nil {
		return p.fail(ctx, log, session, err)
	}
	if started {
		log.Info("Session started")
	} else {
		log.WithField("cursor", session.LastProcessedIndex).Info("Resuming session")
	}

	cursor := session.LastProcessedIndex
	for {
		units, err := p.domain.Units(ctx, session, cursor, p.batchSize)
		if err != nil {
			return p.fail(ctx, log, session, fmt.Errorf("failed to load units at %d: %w", cursor, err))
		}
		if len(units) == 0 {
			break
		}

		for _, unit := range units {
			stop, err := p.cancel.ShouldStop(ctx, sessionID, job)
			if err != nil {
				return p.fail(ctx, log, session, err)
			}
			if stop {
				return p.finalize(ctx, log, session, types.StatusCancelled, "")
			}

			outcome, actionErr := p.domain.Process(ctx, session, unit)
			if actionErr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(actionErr).WithField("domain", unit.Domain).Warn("Unit failed")
				outcome = models.OutcomeFailed
			}

			recorded, err := p.store.RecordUnit(ctx, kind, sessionID, cursor, outcome, unit.Domain)
			if err != nil {
				return p.fail(ctx, log, session, err)
			}
			if !recorded {
				return p.resolveMissedWrite(ctx, log, session, cursor)
			}

			cursor++
			p.metrics.ObserveUnit(string(kind), outcome.String())
		}

		if len(units) < p.batchSize {
			break
		}
	}

	return p.finalize(ctx, log, session, types.StatusCompleted, "")
}

// resolveMissedWrite re-reads the row after a guarded update matched nothing
func (p *Processor) resolveMissedWrite(ctx context.Context, log *logging.Logger, session *models.Session, expected int) error {
	current, err := p.store.Get(ctx, session.Kind, session.ID)
	if err != nil {
		return p.fail(ctx, log, session, err)
	}
	if current.Status.IsTerminal() {
		log.WithField("status", string(current.Status)).Info("Session became terminal, stopping")
		return nil
	}
	return p.fail(ctx, log, session, fmt.Errorf("%w: expected cursor %d, row has %d (%s)",
		ErrCursorConflict, expected, current.LastProcessedIndex, current.Status))
}

func (p *Processor) finalize(ctx context.Context, log *logging.Logger, session *models.Session, status types.SessionStatus, msg string) error {
	changed, err := p.store.Finalize(ctx, session.Kind, session.ID, status, msg)
	if err != nil {
		return fmt.Errorf("failed to finalize session %s as %s: %w", session.ID, status, err)
	}
	if !changed {
		log.WithField("status", string(status)).Info("Session already terminal, final write skipped")
		return nil
	}
	p.metrics.ObserveFinalized(string(session.Kind), string(status))
	log.WithField("status", string(status)).Info("Session finished")
	return nil
}

// fail finalizes the session FAILED with cause and returns cause
func (p *Processor) fail(ctx context.Context, log *logging.Logger, session *models.Session, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.WithError(cause).Error("Session failed")

	if err := p.finalize(ctx, log, session, types.StatusFailed, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/types"
)

// JobLivenessLookup reports whether the queue still holds a session's job
// as waiting, or active under a lease its worker keeps renewing
type JobLivenessLookup interface {
	IsJobLive(ctx context.Context, kind types.SessionKind, jobID string) (bool, error)
}

// QueueLiveness looks jobs up in the queue registered for each kind
type QueueLiveness struct {
	manager *queue.Manager
	queues  map[types.SessionKind]string
}

// NewQueueLiveness maps each kind to its queue name
func NewQueueLiveness(manager *queue.Manager, huntQueue, auditQueue string) *QueueLiveness {
	return &QueueLiveness{
		manager: manager,
		queues: map[types.SessionKind]string{
			types.KindHunt:  huntQueue,
			types.KindAudit: auditQueue,
		},
	}
}

// IsJobLive is true for a waiting job or an active job whose lease has not
// expired. A missing job is not live.
func (l *QueueLiveness) IsJobLive(ctx context.Context, kind types.SessionKind, jobID string) (bool, error) {
	name, ok := l.queues[kind]
	if !ok {
		return false, fmt.Errorf("no queue for session kind %q", kind)
	}
	j, err := l.manager.Queue(name).GetJob(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return j.IsLive(), nil
}

// SweepResult summarizes one pass over one session kind
type SweepResult struct {
	Kind            types.SessionKind `json:"kind"`
	Scanned         int               `json:"scanned"`
	Cancelled       int               `json:"cancelled"`
	SkippedTerminal int               `json:"skippedTerminal"`
	SkippedLive     int               `json:"skippedLive"`
}

// SweeperOptions configures a RecoverySweeper
type SweeperOptions struct {
	// VerifyJobLiveness leaves sessions whose job is still waiting or
	// active untouched. Off by default.
	VerifyJobLiveness bool
	ListLimit         int
	Metrics           *metrics.Metrics
}

// RecoverySweeper forces sessions stuck in PENDING or PROCESSING to CANCELLED
type RecoverySweeper struct {
	store    SessionStore
	liveness JobLivenessLookup
	opts     SweeperOptions
}

// NewRecoverySweeper creates a sweeper. liveness may be nil when
// VerifyJobLiveness is off.
func NewRecoverySweeper(store SessionStore, liveness JobLivenessLookup, opts SweeperOptions) *RecoverySweeper {
	if opts.ListLimit <= 0 {
		opts.ListLimit = 1000
	}
	return &RecoverySweeper{store: store, liveness: liveness, opts: opts}
}

// SetVerifyJobLiveness toggles the liveness check for subsequent sweeps
func (s *RecoverySweeper) SetVerifyJobLiveness(verify bool) {
	s.opts.VerifyJobLiveness = verify
}

// Stuck lists non-terminal sessions of both kinds
func (s *RecoverySweeper) Stuck(ctx context.Context) ([]*models.Session, error) {
	var all []*models.Session
	for _, kind := range []types.SessionKind{types.KindHunt, types.KindAudit} {
		sessions, err := s.store.ListByStatus(ctx, kind, types.NonTerminalStatuses(), s.opts.ListLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list stuck %s sessions: %w", kind, err)
		}
		all = append(all, sessions...)
	}
	return all, nil
}

// Sweep runs one pass over both kinds. Running it again is safe: rows that
// became terminal in between are counted as skipped.
func (s *RecoverySweeper) Sweep(ctx context.Context) ([]SweepResult, error) {
	results := make([]SweepResult, 0, 2)
	var errs []error

	for _, kind := range []types.SessionKind{types.KindHunt, types.KindAudit} {
		result, err := s.sweepKind(ctx, kind)
		results = append(results, result)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return results, errors.Join(errs...)
}

func (s *RecoverySweeper) sweepKind(ctx context.Context, kind types.SessionKind) (SweepResult, error) {
	log := logging.FromContext(ctx).WithField("kind", string(kind))
	result := SweepResult{Kind: kind}

	sessions, err := s.store.ListByStatus(ctx, kind, types.NonTerminalStatuses(), s.opts.ListLimit)
	if err != nil {
		return result, fmt.Errorf("failed to list stuck %s sessions: %w", kind, err)
	}
	result.Scanned = len(sessions)

	var errs []error
	for _, session := range sessions {
		if s.opts.VerifyJobLiveness && s.liveness != nil && session.JobID != nil {
			live, err := s.liveness.IsJobLive(ctx, kind, *session.JobID)
			if err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", session.ID, err))
				continue
			}
			if live {
				result.SkippedLive++
				continue
			}
		}

		changed, err := s.store.Finalize(ctx, kind, session.ID, types.StatusCancelled, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		if !changed {
			result.SkippedTerminal++
			continue
		}
		result.Cancelled++
		log.WithFields(map[string]interface{}{
			"session_id": session.ID,
			"was":        string(session.Status),
		}).Info("Cancelled stuck session")
	}

	s.opts.Metrics.ObserveSweep(string(kind), result.Cancelled, result.SkippedTerminal, result.SkippedLive)
	return result, errors.Join(errs...)
}

// SweepScheduler runs a sweeper on a cron schedule
type SweepScheduler struct {
	sweeper *RecoverySweeper
	logger  *logging.Logger
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweepScheduler parses a standard 5-field cron expression
func NewSweepScheduler(sweeper *RecoverySweeper, schedule string, logger *logging.Logger) (*SweepScheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	s := &SweepScheduler{
		sweeper: sweeper,
		logger:  logger,
		cron:    c,
		timeout: 5 * time.Minute,
	}

	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule
func (s *SweepScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Sweeper schedule started")
}

// Stop waits for a running sweep to finish
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Sweeper schedule stopped")
}

func (s *SweepScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, s.logger)

	results, err := s.sweeper.Sweep(ctx)
	for _, r := range results {
		s.logger.WithFields(map[string]interface{}{
			"kind":             string(r.Kind),
			"scanned":          r.Scanned,
			"cancelled":        r.Cancelled,
			"skipped_terminal": r.SkippedTerminal,
			"skipped_live":     r.SkippedLive,
		}).Info("Sweep finished")
	}
	if err != nil {
		s.logger.WithError(err).Error("Sweep finished with errors")
	}
}

package job

import (
	"context"
	"fmt"

	"github.com/lead-engine/internal/types"
)

// JobHandle is the view of a queue job the cancellation check needs.
// *queue.Job satisfies it.
type JobHandle interface {
	IsFailed(ctx context.Context) (bool, error)
	IsCompleted(ctx context.Context) (bool, error)
}

// StatusReader reads the persisted status of a session
type StatusReader interface {
	GetStatus(ctx context.Context, kind types.SessionKind, id string) (types.SessionStatus, error)
}

// ExternalCancelSource reports whether an operator or API call asked a session to stop
type ExternalCancelSource interface {
	IsExternallyCancelled(ctx context.Context, sessionID string) (bool, error)
}

// JobTerminalSource reports whether the backing queue job has ended
type JobTerminalSource interface {
	IsJobTerminal(ctx context.Context, job JobHandle) (bool, error)
}

// StoreCancellation reads the session status fresh on every call
type StoreCancellation struct {
	store StatusReader
	kind  types.SessionKind
}

// NewStoreCancellation creates a store-backed cancel source for kind
func NewStoreCancellation(store StatusReader, kind types.SessionKind) *StoreCancellation {
	return &StoreCancellation{store: store, kind: kind}
}

// IsExternallyCancelled is true when the persisted status is CANCELLED
func (s *StoreCancellation) IsExternallyCancelled(ctx context.Context, sessionID string) (bool, error) {
	status, err := s.store.GetStatus(ctx, s.kind, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to read session status: %w", err)
	}
	return status == types.StatusCancelled, nil
}

// JobCancellation inspects the queue job. With IncludeCompleted a completed
// job also counts as terminal, which catches a worker that keeps going after
// another actor finalized its job.
type JobCancellation struct {
	IncludeCompleted bool
}

// IsJobTerminal is true when the job is failed, or completed if IncludeCompleted
func (j JobCancellation) IsJobTerminal(ctx context.Context, job JobHandle) (bool, error) {
	if job == nil {
		return false, nil
	}
	failed, err := job.IsFailed(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read job state: %w", err)
	}
	if failed || !j.IncludeCompleted {
		return failed, nil
	}
	completed, err := job.IsCompleted(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read job state: %w", err)
	}
	return completed, nil
}

// CancellationChecker ORs its sources. Either may be nil.
type CancellationChecker struct {
	store ExternalCancelSource
	job   JobTerminalSource
}

// NewCancellationChecker combines a store source and a job source
func NewCancellationChecker(store ExternalCancelSource, job JobTerminalSource) *CancellationChecker {
	return &CancellationChecker{store: store, job: job}
}

// NewHuntCancellation stops a hunt only when its job was failed
func NewHuntCancellation() *CancellationChecker {
	return NewCancellationChecker(nil, JobCancellation{})
}

// NewAuditCancellation stops an audit when the row is CANCELLED or the job is failed or completed
func NewAuditCancellation(store StatusReader) *CancellationChecker {
	return NewCancellationChecker(
		NewStoreCancellation(store, types.KindAudit),
		JobCancellation{IncludeCompleted: true},
	)
}

// ShouldStop reports whether the loop must stop before its next unit
func (c *CancellationChecker) ShouldStop(ctx context.Context, sessionID string, job JobHandle) (bool, error) {
	if c.store != nil {
		cancelled, err := c.store.IsExternallyCancelled(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if cancelled {
			return true, nil
		}
	}
	if c.job != nil {
		return c.job.IsJobTerminal(ctx, job)
	}
	return false, nil
}

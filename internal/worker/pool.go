// Package worker runs session processors against the durable queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lead-engine/internal/job"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/types"
)

// Runner is the session loop a pool drives. *job.Processor satisfies it.
type Runner interface {
	Kind() types.SessionKind
	Run(ctx context.Context, sessionID string, handle job.JobHandle) error
}

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Queue        *queue.Queue
	Runner       Runner
	Concurrency  int
	PollInterval time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// Pool claims jobs from one queue and runs up to Concurrency of them at once
type Pool struct {
	queue        *queue.Queue
	runner       Runner
	pollInterval time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics

	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	runCancel context.CancelFunc
}

// NewPool creates a worker pool
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Pool{
		queue:        cfg.Queue,
		runner:       cfg.Runner,
		pollInterval: pollInterval,
		logger:       logger.WithFields(map[string]interface{}{"queue": cfg.Queue.Name(), "kind": string(cfg.Runner.Kind())}),
		metrics:      cfg.Metrics,
		sem:          make(chan struct{}, concurrency),
	}, nil
}

// Start begins polling the queue. Jobs run under a context derived from ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool for queue %s is already running", p.queue.Name())
	}

	runCtx, cancel := context.WithCancel(logging.WithLogger(ctx, p.logger))
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.runCancel = cancel

	go p.pollLoop(runCtx)

	p.logger.WithField("concurrency", cap(p.sem)).Info("Worker pool started")
	return nil
}

// Stop stops claiming and waits for in-flight jobs. When ctx expires first
// the running jobs are cancelled and released back to the queue; their
// sessions stay PROCESSING and resume from the cursor on the next claim.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool for queue %s is not running", p.queue.Name())
	}
	p.running = false
	close(p.stopCh)
	cancel := p.runCancel
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh

	idle := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		cancel()
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		cancel()
		<-idle
		p.logger.Warn("Worker pool stop timed out, in-flight jobs were interrupted")
		return ctx.Err()
	}
}

// InFlight returns the number of jobs currently running
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

func (p *Pool) pollLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.reclaim(ctx)
		p.fill(ctx)

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// reclaim returns jobs whose worker stopped renewing the lease
func (p *Pool) reclaim(ctx context.Context) {
	requeued, failed, err := p.queue.ReclaimStalled(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WithError(err).Error("Failed to reclaim stalled jobs")
		}
		return
	}
	if requeued == 0 && failed == 0 {
		return
	}
	p.metrics.ObserveReclaimed(p.queue.Name(), requeued, failed)
	p.logger.WithFields(map[string]interface{}{
		"requeued": requeued,
		"failed":   failed,
	}).Warn("Reclaimed stalled jobs")
}

// fill claims jobs until the queue is empty or every slot is busy
func (p *Pool) fill(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		select {
		case p.sem <- struct{}{}:
		default:
			return
		}

		j, err := p.queue.Claim(ctx)
		if err != nil || j == nil {
			<-p.sem
			if err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("Failed to claim job")
			}
			return
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()

			p.inFlight.Add(1)
			defer p.inFlight.Add(-1)
			p.metrics.WorkerStarted(p.queue.Name())
			defer p.metrics.WorkerFinished(p.queue.Name())

			p.handle(ctx, j)
		}()
	}
}

// handle runs one claimed job and settles it in the queue
func (p *Pool) handle(ctx context.Context, j *queue.Job) {
	log := p.logger.WithField("job_id", j.ID)

	var payload models.JobPayload
	if err := j.Decode(&payload); err != nil {
		p.settle(ctx, j, fmt.Errorf("invalid job payload: %w", err))
		return
	}
	if payload.Kind != p.runner.Kind() {
		p.settle(ctx, j, fmt.Errorf("job kind %q does not match queue kind %q", payload.Kind, p.runner.Kind()))
		return
	}

	log = log.WithField("session_id", payload.SessionID)
	log.Info("Job claimed")

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	var leaseLost atomic.Bool
	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		p.keepAlive(jobCtx, j, log, func() {
			leaseLost.Store(true)
			cancelJob()
		})
	}()

	runErr := p.runner.Run(logging.WithLogger(jobCtx, log), payload.SessionID, j)
	cancelJob()
	<-keepAliveDone

	if leaseLost.Load() {
		// The job is back in the queue or owned by another worker
		p.metrics.ObserveJobHandled(p.queue.Name(), "lease_lost")
		log.Warn("Job lease lost, abandoning run")
		return
	}

	if runErr != nil && ctx.Err() != nil {
		// Shutdown: the session stays PROCESSING and the job goes back to
		// the waiting list so the next worker resumes it.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Release(releaseCtx); err != nil && !errors.Is(err, queue.ErrJobNotActive) {
			log.WithError(err).Warn("Failed to release job on shutdown")
		}
		p.metrics.ObserveJobHandled(p.queue.Name(), "released")
		log.Warn("Job interrupted by shutdown, released to the queue")
		return
	}

	p.settle(ctx, j, runErr)
}

// keepAlive renews the job lease at half the lock duration until ctx ends.
// onLost runs when the lease was taken away.
func (p *Pool) keepAlive(ctx context.Context, j *queue.Job, log *logging.Logger, onLost func()) {
	interval := p.queue.LockDuration() / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := j.ExtendLock(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrLeaseLost), errors.Is(err, queue.ErrJobNotFound):
			log.WithError(err).Warn("Job lease could not be renewed")
			onLost()
			return
		case errors.Is(err, queue.ErrJobNotActive):
			// Settled externally; the cancellation check stops the run
			return
		default:
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Failed to extend job lease")
		}
	}
}

func (p *Pool) settle(ctx context.Context, j *queue.Job, runErr error) {
	log := p.logger.WithField("job_id", j.ID)

	if runErr != nil {
		if err := j.Fail(ctx, runErr.Error()); err != nil && !errors.Is(err, queue.ErrJobNotActive) && !errors.Is(err, queue.ErrLeaseLost) {
			log.WithError(err).Error("Failed to mark job failed")
		}
		p.metrics.ObserveJobHandled(p.queue.Name(), string(queue.StateFailed))
		log.WithError(runErr).Error("Job failed")
		return
	}

	err := j.Complete(ctx)
	switch {
	case errors.Is(err, queue.ErrLeaseLost):
		log.Warn("Job lease lost before completion")
	case errors.Is(err, queue.ErrJobNotActive):
		// Failed externally while the session loop was running
		log.Info("Job was already settled")
	case err != nil:
		log.WithError(err).Error("Failed to mark job completed")
	default:
		log.Info("Job completed")
	}
	p.metrics.ObserveJobHandled(p.queue.Name(), string(queue.StateCompleted))
}

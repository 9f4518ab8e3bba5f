package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrJobNotFound is returned when a job hash no longer exists
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotActive is returned when a transition is not allowed from the job's state
	ErrJobNotActive = errors.New("job is not in a state that allows this transition")
	// ErrQueuePaused is returned by Submit while a queue is paused or draining
	ErrQueuePaused = errors.New("queue is paused")
	// ErrQueueHasActiveJobs is returned by a non-forced Obliterate
	ErrQueueHasActiveJobs = errors.New("queue has active jobs")
	// ErrLeaseLost is returned to a claiming handle whose lease expired and
	// was reclaimed, or now belongs to another worker
	ErrLeaseLost = errors.New("job lease lost")
)

const (
	scanBatch          = 500
	drainPollInterval  = 200 * time.Millisecond
	obliterateDelBatch = 500
)

type keySet struct {
	wait      string
	active    string
	completed string
	failed    string
	paused    string
	jobPrefix string
	pattern   string
}

func newKeySet(prefix, name string) keySet {
	base := prefix + ":" + name + ":"
	return keySet{
		wait:      base + "wait",
		active:    base + "active",
		completed: base + "completed",
		failed:    base + "failed",
		paused:    base + "paused",
		jobPrefix: base + "job:",
		pattern:   base + "*",
	}
}

func (k keySet) job(id string) string {
	return k.jobPrefix + id
}

// Counts is a snapshot of a queue's job population
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

// Queue is a handle on one named durable queue
type Queue struct {
	name         string
	client       redis.UniversalClient
	keys         keySet
	lockDuration time.Duration
	maxStalls    int
	now          func() time.Time
}

func newQueue(client redis.UniversalClient, prefix, name string, lockDuration time.Duration, maxStalls int) *Queue {
	return &Queue{
		name:         name,
		client:       client,
		keys:         newKeySet(prefix, name),
		lockDuration: lockDuration,
		maxStalls:    maxStalls,
		now:          time.Now,
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Submit enqueues payload (JSON-encoded) and returns the new job
func (q *Queue) Submit(ctx context.Context, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	id := uuid.New().String()
	createdAt := q.now()

	ok, err := submitScript.Run(ctx, q.client,
		[]string{q.keys.paused, q.keys.wait, q.keys.job(id)},
		id, string(body), createdAt.UnixMilli(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to submit job to %s: %w", q.name, err)
	}
	if ok == 0 {
		return nil, ErrQueuePaused
	}

	return &Job{
		ID:        id,
		Payload:   body,
		State:     StateWaiting,
		CreatedAt: createdAt,
		q:         q,
	}, nil
}

// LockDuration is how long a claim holds its lease without renewal
func (q *Queue) LockDuration() time.Duration {
	return q.lockDuration
}

// Claim moves the oldest waiting job to active under a fresh lease and
// returns it. The returned handle is the lease holder: ExtendLock, Release
// and the finishing calls check it still owns the job.
// It returns nil, nil when nothing is waiting or the queue is paused.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	token := uuid.New().String()

	id, err := claimScript.Run(ctx, q.client,
		[]string{q.keys.paused, q.keys.wait, q.keys.active},
		q.keys.jobPrefix, now.UnixMilli(), now.Add(q.lockDuration).UnixMilli(), token,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job from %s: %w", q.name, err)
	}

	j, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	j.token = token
	return j, nil
}

// ReclaimStalled returns active jobs whose lease expired to the waiting
// list so another worker picks them up. A job that stalled more than the
// configured maximum is failed instead.
func (q *Queue) ReclaimStalled(ctx context.Context) (requeued, failed int, err error) {
	res, err := reclaimScript.Run(ctx, q.client,
		[]string{q.keys.active, q.keys.wait, q.keys.failed},
		q.keys.jobPrefix, q.now().UnixMilli(), q.maxStalls,
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reclaim stalled jobs in %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected reclaim result from %s: %v", q.name, res)
	}
	return int(res[0]), int(res[1]), nil
}

// GetJob loads a job by id
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return q.jobFromHash(fields), nil
}

// GetActive returns every job currently held by a worker
func (q *Queue) GetActive(ctx context.Context) ([]*Job, error) {
	ids, err := q.client.LRange(ctx, q.keys.active, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.keys.job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load active jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		jobs = append(jobs, q.jobFromHash(fields))
	}
	return jobs, nil
}

// Counts returns waiting/active/completed/failed counts
func (q *Queue) Counts(ctx context.Context) (*Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.keys.wait)
	active := pipe.LLen(ctx, q.keys.active)
	completed := pipe.SCard(ctx, q.keys.completed)
	failed := pipe.SCard(ctx, q.keys.failed)
	paused := pipe.Exists(ctx, q.keys.paused)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to count jobs in %s: %w", q.name, err)
	}

	return &Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

// Pause stops Submit and Claim until Resume
func (q *Queue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.keys.paused, "1", 0).Err()
}

// Resume lifts a pause or a finished drain
func (q *Queue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.keys.paused).Err()
}

// Drain pauses the queue, drops waiting jobs and blocks until in-flight
// jobs have finished or ctx ends. The queue stays paused afterwards.
func (q *Queue) Drain(ctx context.Context) (dropped int, err error) {
	if err := q.Pause(ctx); err != nil {
		return 0, fmt.Errorf("failed to pause %s: %w", q.name, err)
	}

	dropped, err = dropWaitingScript.Run(ctx, q.client, []string{q.keys.wait}, q.keys.jobPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to drop waiting jobs: %w", err)
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		active, err := q.client.LLen(ctx, q.keys.active).Result()
		if err != nil {
			return dropped, fmt.Errorf("failed to count active jobs: %w", err)
		}
		if active == 0 {
			return dropped, nil
		}

		select {
		case <-ctx.Done():
			return dropped, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Obliterate deletes every key of the queue. Without force it refuses
// while jobs are active. This cannot be undone.
func (q *Queue) Obliterate(ctx context.Context, force bool) (deleted int, err error) {
	if !force {
		active, err := q.client.LLen(ctx, q.keys.active).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count active jobs: %w", err)
		}
		if active > 0 {
			return 0, ErrQueueHasActiveJobs
		}
	}

	var batch []string
	iter := q.client.Scan(ctx, 0, q.keys.pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= obliterateDelBatch {
			n, err := q.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete queue keys: %w", err)
			}
			deleted += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan queue keys: %w", err)
	}
	if len(batch) > 0 {
		n, err := q.client.Del(ctx, batch...).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete queue keys: %w", err)
		}
		deleted += int(n)
	}

	return deleted, nil
}

func (q *Queue) jobFromHash(fields map[string]string) *Job {
	attempts, _ := strconv.Atoi(fields["attempts"])
	stalls, _ := strconv.Atoi(fields["stalls"])
	return &Job{
		ID:           fields["id"],
		Payload:      []byte(fields["payload"]),
		State:        JobState(fields["state"]),
		Attempts:     attempts,
		Stalls:       stalls,
		FailedReason: fields["failedReason"],
		CreatedAt:    parseMillis(fields["createdAt"]),
		ProcessedAt:  parseMillis(fields["processedAt"]),
		FinishedAt:   parseMillis(fields["finishedAt"]),
		LockUntil:    parseMillis(fields["lockUntil"]),
		q:            q,
	}
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

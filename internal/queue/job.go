package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobState is the lifecycle state of a queue job
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Job is a handle on one queue job. State and the timestamps are the values
// seen when the handle was loaded; use the query methods for fresh state.
type Job struct {
	ID           string
	Payload      []byte
	State        JobState
	Attempts     int
	Stalls       int
	FailedReason string
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time
	LockUntil    time.Time

	// token is set only on the handle returned by Claim
	token string
	q     *Queue
}

// QueueName returns the name of the queue that owns the job
func (j *Job) QueueName() string {
	return j.q.name
}

// Decode unmarshals the JSON payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// CurrentState reads the job's state from Redis
func (j *Job) CurrentState(ctx context.Context) (JobState, error) {
	state, err := j.q.client.HGet(ctx, j.q.keys.job(j.ID), "state").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("failed to read state of job %s: %w", j.ID, err)
	}
	return JobState(state), nil
}

// IsFailed reports whether the job has been moved to failed.
// A job that no longer exists is reported as not failed.
func (j *Job) IsFailed(ctx context.Context) (bool, error) {
	return j.isState(ctx, StateFailed)
}

// IsCompleted reports whether the job has been moved to completed
func (j *Job) IsCompleted(ctx context.Context) (bool, error) {
	return j.isState(ctx, StateCompleted)
}

func (j *Job) isState(ctx context.Context, want JobState) (bool, error) {
	state, err := j.CurrentState(ctx)
	if errors.Is(err, ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == want, nil
}

// IsLive reports whether the loaded handle shows a job that is still owed
// work: waiting, or active under an unexpired lease
func (j *Job) IsLive() bool {
	switch j.State {
	case StateWaiting:
		return true
	case StateActive:
		return j.LockUntil.After(j.q.now())
	default:
		return false
	}
}

// ExtendLock renews the lease of a claimed job for another lock duration.
// It returns ErrLeaseLost when the lease expired and was reclaimed, and
// ErrJobNotActive when the job already finished.
func (j *Job) ExtendLock(ctx context.Context) error {
	lockUntil := j.q.now().Add(j.q.lockDuration)
	res, err := extendScript.Run(ctx, j.q.client,
		[]string{j.q.keys.job(j.ID)},
		j.token, lockUntil.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock of job %s: %w", j.ID, err)
	}
	if err := resultError(res); err != nil {
		return err
	}
	j.LockUntil = lockUntil
	return nil
}

// Release returns a claimed job to the waiting list so another worker
// runs it next. A release does not count as a stall.
func (j *Job) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, j.q.client,
		[]string{j.q.keys.active, j.q.keys.wait, j.q.keys.job(j.ID)},
		j.ID, j.token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", j.ID, err)
	}
	if err := resultError(res); err != nil {
		return err
	}
	j.State = StateWaiting
	j.LockUntil = time.Time{}
	return nil
}

// Complete moves an active job to completed
func (j *Job) Complete(ctx context.Context) error {
	return j.finish(ctx, StateCompleted, j.q.keys.completed, "", false)
}

// Fail moves a waiting or active job to failed with reason
func (j *Job) Fail(ctx context.Context, reason string) error {
	return j.finish(ctx, StateFailed, j.q.keys.failed, reason, true)
}

func (j *Job) finish(ctx context.Context, state JobState, target, reason string, allowWaiting bool) error {
	allow := "0"
	if allowWaiting {
		allow = "1"
	}

	res, err := finishScript.Run(ctx, j.q.client,
		[]string{j.q.keys.active, j.q.keys.wait, target, j.q.keys.job(j.ID)},
		j.ID, string(state), j.q.now().UnixMilli(), reason, allow, j.token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to move job %s to %s: %w", j.ID, state, err)
	}
	if err := resultError(res); err != nil {
		return err
	}

	j.State = state
	j.FailedReason = reason
	j.LockUntil = time.Time{}
	return nil
}

func resultError(res int) error {
	switch res {
	case -1:
		return ErrJobNotFound
	case -2:
		return ErrLeaseLost
	case 0:
		return ErrJobNotActive
	}
	return nil
}

// Remove deletes the job and its membership in every collection
func (j *Job) Remove(ctx context.Context) error {
	k := j.q.keys
	n, err := removeScript.Run(ctx, j.q.client,
		[]string{k.wait, k.active, k.completed, k.failed, k.job(j.ID)},
		j.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to remove job %s: %w", j.ID, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

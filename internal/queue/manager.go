// Package queue provides named durable job queues backed by Redis.
//
// Each queue keeps its jobs in a hash per job plus a waiting list, an active
// list and completed/failed sets. State transitions run as Lua scripts so a
// job is in exactly one of those collections at any time.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lead-engine/internal/config"
)

// DefaultKeyPrefix namespaces every key the queues write
const DefaultKeyPrefix = "leadq"

const (
	// DefaultLockDuration is how long a claim is held without renewal
	DefaultLockDuration = 30 * time.Second
	// DefaultMaxStalls is how many lease expiries a job survives before it fails
	DefaultMaxStalls = 3
)

// ManagerOption tunes the queues a Manager hands out
type ManagerOption func(*Manager)

// WithLockDuration sets the lease length of claimed jobs
func WithLockDuration(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.lockDuration = d
		}
	}
}

// WithMaxStalls sets how many times a job may lose its lease before it is
// failed. Zero means it is always requeued.
func WithMaxStalls(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.maxStalls = n
		}
	}
}

// Manager is the registry of named queues sharing one Redis connection pool.
// It is passed explicitly to everything that submits or inspects jobs.
type Manager struct {
	client       redis.UniversalClient
	prefix       string
	lockDuration time.Duration
	maxStalls    int

	mu     sync.Mutex
	queues map[string]*Queue

	closeOnce sync.Once
	closeErr  error
}

// NewManager connects to Redis and returns an empty registry
func NewManager(cfg *config.RedisConfig, prefix string, opts ...ManagerOption) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewManagerWithClient(client, prefix, opts...), nil
}

// NewManagerWithClient wraps an existing client. Close will close it.
func NewManagerWithClient(client redis.UniversalClient, prefix string, opts ...ManagerOption) *Manager {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	m := &Manager{
		client:       client,
		prefix:       prefix,
		lockDuration: DefaultLockDuration,
		maxStalls:    DefaultMaxStalls,
		queues:       make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Queue returns the handle for name, creating it on first use
func (m *Manager) Queue(name string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		return q
	}
	q := newQueue(m.client, m.prefix, name, m.lockDuration, m.maxStalls)
	m.queues[name] = q
	return q
}

// Names returns the names of queues created so far, sorted
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks if Redis is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.client != nil {
			m.closeErr = m.client.Close()
		}
	})
	return m.closeErr
}

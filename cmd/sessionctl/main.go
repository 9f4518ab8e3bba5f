// Package main provides sessionctl, the operator CLI for sessions and queues.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lead-engine/internal/config"
	"github.com/lead-engine/internal/job"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/storage"
)

// app holds the dependencies a command runs against
type app struct {
	cfg    *config.Config
	store  job.SessionStore
	queues *queue.Manager
	out    io.Writer
	close  func()
}

// appFactory builds the dependencies. needStore is false for queue-only commands.
type appFactory func(needStore bool) (*app, error)

func main() {
	if err := newRootCommand(connect, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(needStore bool) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)

	queues, err := queue.NewManager(&cfg.Database.Redis, cfg.Queue.KeyPrefix,
		queue.WithLockDuration(cfg.Queue.LockDuration),
		queue.WithMaxStalls(cfg.Queue.MaxStalls),
	)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, queues: queues, out: os.Stdout, close: func() { _ = queues.Close() }}

	if needStore {
		db, err := storage.Connect(context.Background(), &cfg.Database.Postgres)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = storage.NewSessionRepository(db)
		a.close = func() {
			db.Close()
			_ = queues.Close()
		}
	}
	return a, nil
}

func newRootCommand(factory appFactory, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and repair lead sessions and their queues",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(newSessionsCommand(factory))
	root.AddCommand(newJobsCommand(factory))
	root.AddCommand(newQueuesCommand(factory))
	return root
}

// withApp runs fn against freshly built dependencies and releases them after
func withApp(cmd *cobra.Command, factory appFactory, needStore bool, fn func(a *app) error) error {
	a, err := factory(needStore)
	if err != nil {
		return err
	}
	if a.close != nil {
		defer a.close()
	}
	a.out = cmd.OutOrStdout()
	return fn(a)
}

// queueNames is the configured queue set, used when no queue is named
func (a *app) queueNames() []string {
	if a.cfg != nil {
		return a.cfg.QueueNames()
	}
	return a.queues.Names()
}

// knownQueue rejects names outside the configured set
func (a *app) knownQueue(name string) (*queue.Queue, error) {
	for _, n := range a.queueNames() {
		if n == name {
			return a.queues.Queue(name), nil
		}
	}
	return nil, fmt.Errorf("unknown queue %q (known: %v)", name, a.queueNames())
}

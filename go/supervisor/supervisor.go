// Package supervisor implements the single cooperative task group that
// starts the Mirror, HTTP Ingest, TCP Ingest, File Processor, Sender and
// Janitor tasks (spec.md §5), modeled on the teacher's
// task.Group/signal-handling block in go/flow-ingester/main.go but built
// on golang.org/x/sync/errgroup rather than gazette's task package — this
// is a single-node relay with no cluster membership to maintain (see
// DESIGN.md for the rationale).
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// JoinTimeout is how long Wait gives running tasks to exit after
// cancellation before abandoning them (spec.md §5: "tasks exceeding it are
// abandoned").
const JoinTimeout = 5 * time.Second

// Task is a long-lived loop. It must return promptly once ctx is done.
type Task func(ctx context.Context) error

// Group is the cooperative supervisor.
type Group struct {
	mu    sync.Mutex
	names []string
	group *errgroup.Group
	ctx   context.Context
	log   *log.Entry
}

// New builds a Group bound to a cancellable context; the context is
// cancelled on SIGTERM/SIGINT or when any task returns an error.
func New(parent context.Context, logger *log.Entry) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-signalCh:
			logger.WithField("signal", sig).Info("caught signal, shutting down")
			cancel()
		case <-egCtx.Done():
		}
	}()

	return &Group{group: eg, ctx: egCtx, log: logger}
}

// Queue registers a named task to run for the lifetime of the group.
func (g *Group) Queue(name string, t Task) {
	g.mu.Lock()
	g.names = append(g.names, name)
	g.mu.Unlock()

	g.group.Go(func() error {
		g.log.WithField("task", name).Info("starting task")
		err := t(g.ctx)
		if err != nil && g.ctx.Err() == nil {
			g.log.WithField("task", name).WithError(err).Error("task exited with error")
		} else {
			g.log.WithField("task", name).Info("task stopped")
		}
		return err
	})
}

// Wait blocks until every task has returned, or JoinTimeout has elapsed
// since cancellation, whichever comes first.
func (g *Group) Wait() error {
	done := make(chan error, 1)
	go func() { done <- g.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-g.ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(JoinTimeout):
			g.log.Warn("tasks did not join within timeout, abandoning")
			return nil
		}
	}
}

// Context returns the group's context, cancelled on shutdown.
func (g *Group) Context() context.Context { return g.ctx }

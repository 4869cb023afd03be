package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/ingest-worker/internal/chunker"
	"github.com/cuongbtq/ingest-worker/internal/parser"
	"github.com/cuongbtq/ingest-worker/internal/queue"
	"github.com/cuongbtq/ingest-worker/internal/worker/domain"
)

// Default backoffs between poll cycles, by outcome class.
const (
	DefaultIdleBackoff  = 1 * time.Second
	DefaultAuthBackoff  = 5 * time.Second
	DefaultErrorBackoff = 30 * time.Second
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Queue         *queue.Client
	Parser        parser.Parser
	Chunker       chunker.Chunker
	LeaserID      string
	LeaseDuration time.Duration
	InstanceID    string

	// Backoffs default to the package constants when zero.
	IdleBackoff  time.Duration
	AuthBackoff  time.Duration
	ErrorBackoff time.Duration
}

// Worker leases one job at a time from the remote queue and runs it
// through the fetch, parse, chunk, ingest pipeline. Processing is
// deliberately sequential: one job is fully resolved before the next lease
// attempt, and horizontal scaling happens by running more instances with
// distinct leaser IDs.
type Worker struct {
	logger        *slog.Logger
	queue         *queue.Client
	parser        parser.Parser
	chunker       chunker.Chunker
	leaserID      string
	leaseDuration time.Duration
	instanceID    string
	idleBackoff   time.Duration
	authBackoff   time.Duration
	errorBackoff  time.Duration

	cycles    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	idle      atomic.Uint64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:        cfg.Logger,
		queue:         cfg.Queue,
		parser:        cfg.Parser,
		chunker:       cfg.Chunker,
		leaserID:      cfg.LeaserID,
		leaseDuration: cfg.LeaseDuration,
		instanceID:    cfg.InstanceID,
		idleBackoff:   cfg.IdleBackoff,
		authBackoff:   cfg.AuthBackoff,
		errorBackoff:  cfg.ErrorBackoff,
	}
	if w.idleBackoff <= 0 {
		w.idleBackoff = DefaultIdleBackoff
	}
	if w.authBackoff <= 0 {
		w.authBackoff = DefaultAuthBackoff
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = DefaultErrorBackoff
	}
	return w
}

// Run performs the initial login and then drives the poll/process loop
// until ctx is canceled. A failed initial login is the one fatal error:
// without credentials no work is possible. Every later failure is logged,
// backed off, and retried indefinitely.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.Login(ctx); err != nil {
		return fmt.Errorf("initial login failed: %w", err)
	}

	w.logger.Info("Worker started",
		slog.String("instance_id", w.instanceID),
		slog.String("leaser_id", w.leaserID),
		slog.Duration("lease_duration", w.leaseDuration),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.cycles.Add(1)
		err := w.processNext(ctx)

		switch {
		case err == nil:
			w.completed.Add(1)
			// A job was just available; poll again immediately.

		case errors.Is(err, domain.ErrNoJobAvailable):
			w.idle.Add(1)
			w.logger.Debug("No job available, idling",
				slog.Duration("backoff", w.idleBackoff),
			)
			if !w.sleep(ctx, w.idleBackoff) {
				return ctx.Err()
			}

		case ctx.Err() != nil:
			return ctx.Err()

		case domain.IsAuthError(err):
			w.failed.Add(1)
			w.logger.Error("Credential failure, forcing re-login",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.authBackoff),
			)
			if !w.sleep(ctx, w.authBackoff) {
				return ctx.Err()
			}
			if loginErr := w.queue.Login(ctx); loginErr != nil {
				// Keep cycling; the next attempt classifies as an auth
				// failure again and backs off the same way.
				w.logger.Error("Re-login failed",
					slog.String("error", loginErr.Error()),
				)
			}

		default:
			w.failed.Add(1)
			w.logger.Error("Cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.errorBackoff),
			)
			if !w.sleep(ctx, w.errorBackoff) {
				return ctx.Err()
			}
		}
	}
}

// sleep waits for d or until ctx is canceled. It reports whether the full
// backoff elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stats is a point-in-time snapshot of the worker's cycle counters.
type Stats struct {
	InstanceID string `json:"instance_id"`
	LeaserID   string `json:"leaser_id"`
	Cycles     uint64 `json:"cycles"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Idle       uint64 `json:"idle"`
}

// Stats returns the current counter snapshot.
func (w *Worker) Stats() Stats {
	return Stats{
		InstanceID: w.instanceID,
		LeaserID:   w.leaserID,
		Cycles:     w.cycles.Load(),
		Completed:  w.completed.Load(),
		Failed:     w.failed.Load(),
		Idle:       w.idle.Load(),
	}
}

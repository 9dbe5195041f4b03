package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stepline/stepline/internal/logging"
	"github.com/stepline/stepline/pkg/schema"
)

// DefaultRunnerConcurrency bounds the number of instances driven at once.
const DefaultRunnerConcurrency = 10

// Runner drives instances step by step on tracked, cancellable
// goroutines. Every goroutine is owned: Stop cancels one instance,
// StopAll cancels everything and waits, and a crashed process never
// leaves detached work behind because driving state is rebuilt from the
// store on the next Start.
type Runner struct {
	exec   Executor
	pool   *WorkerPool
	logger *slog.Logger

	// mu guards driving.
	mu      sync.Mutex
	driving map[string]context.CancelFunc
}

// NewRunner creates a Runner over the executor. concurrency <= 0
// selects DefaultRunnerConcurrency.
func NewRunner(exec Executor, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultRunnerConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		exec:    exec,
		pool:    NewWorkerPool(concurrency),
		logger:  logger,
		driving: make(map[string]context.CancelFunc),
	}
}

// Start launches a goroutine that repeatedly calls ExecuteNextStep for
// the instance until it reports waiting, completed, failure, or the
// run is cancelled. An instance already being driven is not started
// twice.
func (r *Runner) Start(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	if _, ok := r.driving[instanceID]; ok {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q is already being driven", instanceID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.driving[instanceID] = cancel
	r.mu.Unlock()

	err := r.pool.Submit(ctx, func(context.Context) error {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.driving, instanceID)
			r.mu.Unlock()
		}()
		return r.drive(runCtx, instanceID)
	})
	if err != nil {
		cancel()
		r.mu.Lock()
		delete(r.driving, instanceID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Resume restarts driving after input was submitted. It is Start with
// a name that matches intent at call sites.
func (r *Runner) Resume(ctx context.Context, instanceID string) error {
	return r.Start(ctx, instanceID)
}

// drive loops ExecuteNextStep until the instance stops advancing.
func (r *Runner) drive(ctx context.Context, instanceID string) error {
	logger := logging.LogWith(logging.WithInstanceID(ctx, instanceID), r.logger)

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("instance run cancelled", slog.String("instance_id", instanceID))
			return err
		}

		res, err := r.exec.ExecuteNextStep(ctx, instanceID)
		if err != nil {
			logger.Error("instance run aborted",
				slog.String("instance_id", instanceID),
				slog.String("error", err.Error()),
			)
			return err
		}

		switch res.Status {
		case StatusAdvanced:
			continue
		case StatusWaiting:
			logger.Info("instance run parked on input", slog.String("instance_id", instanceID))
			return nil
		case StatusCompleted:
			logger.Info("instance run finished", slog.String("instance_id", instanceID))
			return nil
		case StatusFailed:
			logger.Error("instance run failed",
				slog.String("instance_id", instanceID),
				slog.String("error", res.Err.Error()),
			)
			return res.Err
		default:
			return schema.NewErrorf(schema.ErrCodeHandler, "unknown execution status %q", res.Status)
		}
	}
}

// Stop cancels the goroutine driving the instance, if any.
func (r *Runner) Stop(instanceID string) {
	r.mu.Lock()
	cancel, ok := r.driving[instanceID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every driven instance and waits for their goroutines
// to drain. The runner accepts no new work afterwards.
func (r *Runner) StopAll() {
	r.mu.Lock()
	for _, cancel := range r.driving {
		cancel()
	}
	r.mu.Unlock()
	r.pool.Shutdown()
}

// Running reports whether the instance is currently being driven.
func (r *Runner) Running(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.driving[instanceID]
	return ok
}

// Count returns the number of instances currently being driven.
func (r *Runner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.driving)
}

package task

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrenlabs/taskwell/db"
	"github.com/wrenlabs/taskwell/errors"
)

// RunnerConfig contains configuration for the runner loop.
type RunnerConfig struct {
	Workers       int           `json:"workers"`        // Number of concurrent claim loops
	PollInterval  time.Duration `json:"poll_interval"`  // How often each worker checks for claimable tasks
	CleanInterval time.Duration `json:"clean_interval"` // How often the maintenance sweep runs
	ResetTimeout  time.Duration `json:"reset_timeout"`  // Started tasks older than this are considered abandoned
	DeleteAfter   time.Duration `json:"delete_after"`   // Complete tasks older than this are deleted
	Service       string        `json:"service"`        // Service name stamped on the heartbeat
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:       1,
		PollInterval:  2 * time.Second,
		CleanInterval: time.Minute,
		ResetTimeout:  time.Minute,
		DeleteAfter:   30 * 24 * time.Hour,
		Service:       "taskwell",
	}
}

// Runner polls the store for claimable tasks and executes them. It also
// owns the periodic maintenance sweep and the liveness heartbeat, so a
// single running Runner is a complete task-processing process.
type Runner struct {
	store     *Store
	heartbeat *Heartbeat
	config    RunnerConfig
	pid       int
	logger    *zap.SugaredLogger

	parentCtx context.Context // worker context is recreated from this after Stop
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewRunner creates a runner over a store. Handlers must be registered
// on the store's registry before calling Start.
func NewRunner(store *Store, heartbeat *Heartbeat, cfg RunnerConfig, logger *zap.SugaredLogger) *Runner {
	return NewRunnerWithContext(context.Background(), store, heartbeat, cfg, logger)
}

// NewRunnerWithContext creates a runner whose workers stop when ctx is
// cancelled. Useful for tests and for wiring into a larger process
// lifecycle.
func NewRunnerWithContext(ctx context.Context, store *Store, heartbeat *Heartbeat, cfg RunnerConfig, logger *zap.SugaredLogger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		store:     store,
		heartbeat: heartbeat,
		config:    cfg,
		pid:       os.Getpid(),
		logger:    logger.Named("runner"),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
	}
}

// Start launches the worker and maintenance goroutines. An initial
// clean sweep runs first so tasks abandoned by a previous crash become
// claimable before the workers start polling.
func (r *Runner) Start() {
	r.mu.Lock()
	// After Stop() the context is cancelled; recreate it from the parent
	// before spawning workers.
	select {
	case <-r.ctx.Done():
		r.ctx, r.cancel = context.WithCancel(r.parentCtx)
		r.logger.Infow("Recreated runner context after previous shutdown")
	default:
	}
	r.mu.Unlock()

	if reset, deleted, err := r.store.Clean(r.config.ResetTimeout, r.config.DeleteAfter); err != nil {
		r.logger.Warnw("Startup clean sweep failed", "error", err)
	} else if reset > 0 {
		r.logger.Infow("Recovered tasks abandoned by previous crash", "reset", reset, "deleted", deleted)
	}

	if metrics, err := CollectSystemMetrics(); err == nil && metrics.UnderPressure() {
		r.logger.Warnw("Memory pressure high, worker count may be too aggressive",
			"memory_used_percent", metrics.MemoryUsedPercent,
			"workers", r.config.Workers)
	}

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.maintainer()

	r.logger.Infow("Runner started",
		"workers", r.config.Workers,
		"poll_interval", r.config.PollInterval,
		"pid", r.pid)
}

// Stop cancels the workers and waits for them to exit. In-flight
// handlers are given up to 30 seconds to finish; after that Stop
// returns and leaves them to the next clean sweep.
func (r *Runner) Stop() {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		r.logger.Infow("Runner stopped, all workers exited cleanly")
	case <-time.After(timeout):
		r.logger.Warnw("Runner stop timed out, workers may still be finishing", "timeout", timeout)
	}
}

// Workers returns the configured worker count.
func (r *Runner) Workers() int {
	return r.config.Workers
}

// worker is one claim loop: beat, claim, run, repeat.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.processNext(); err != nil {
				select {
				case <-r.ctx.Done():
					return // shutting down, error is expected noise
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					return // database closed under us during shutdown
				}

				errorCount++
				r.logger.Errorw("Worker error",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					r.logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoff)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					r.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// processNext claims and runs at most one task. Handler failures are
// already persisted on the record by Run, so they are logged here but
// not treated as worker errors; only infrastructure failures count
// toward backoff.
func (r *Runner) processNext() error {
	select {
	case <-r.ctx.Done():
		return nil
	default:
	}

	if r.heartbeat != nil {
		if err := r.heartbeat.SetRunning(r.pid, r.config.Service); err != nil {
			r.logger.Warnw("Failed to write heartbeat", "error", err)
		}
	}

	t, err := r.store.GetWait(r.ctx)
	if err != nil {
		return errors.Wrap(err, "failed to claim task")
	}
	if t == nil {
		return nil
	}

	r.logger.Infow("Running task", "task_id", t.ID, "command", t.Command, "attempt", t.Attempts)

	if err := r.store.Run(r.ctx, t.ID, r.pid); err != nil {
		r.logger.Warnw("Task failed", "task_id", t.ID, "command", t.Command, "error", err)
		return nil
	}
	return nil
}

// maintainer runs the periodic clean sweep.
func (r *Runner) maintainer() {
	defer r.wg.Done()

	interval := r.config.CleanInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.store.Clean(r.config.ResetTimeout, r.config.DeleteAfter); err != nil {
				select {
				case <-r.ctx.Done():
					return
				default:
				}
				r.logger.Warnw("Clean sweep failed", "error", err)
			}
		}
	}
}

// Package worker executes submitted runs in the background, off the HTTP path.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
)

// Executor runs one PENDING run to a terminal status.
type Executor interface {
	Execute(ctx context.Context, runID uuid.UUID) error
	PendingRunIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Pool is a fixed set of goroutines reading run ids from a bounded queue.
// A run that does not fit in the queue stays PENDING and is picked up on the
// next Start.
type Pool struct {
	exec    Executor
	workers int
	queue   chan uuid.UUID

	mu      sync.Mutex
	started bool
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

func NewPool(exec Executor, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		exec:    exec,
		workers: workers,
		queue:   make(chan uuid.UUID, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("worker"),
	}
}

// Start launches the workers and enqueues runs left PENDING by a previous process.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("worker pool already started")
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}

	pending, err := p.exec.PendingRunIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range pending {
		p.Submit(id)
	}
	if len(pending) > 0 {
		p.logger.Info("recovered pending runs", zap.Int("count", len(pending)))
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
	return nil
}

// Submit queues a run without blocking. It reports false when the pool is
// stopped or the queue is full.
func (p *Pool) Submit(runID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.logger.Warn("pool stopped, run left pending", zap.String("run_id", runID.String()))
		return false
	}
	select {
	case p.queue <- runID:
		return true
	default:
		p.logger.Warn("queue full, run left pending", zap.String("run_id", runID.String()))
		return false
	}
}

// Stop cancels running solves and waits for the workers to exit or ctx to end.
// Interrupted runs end FAILED; queued ones stay PENDING.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(n int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", n))

	for id := range p.queue {
		if p.ctx.Err() != nil {
			// drain without executing; the runs stay PENDING
			continue
		}
		p.run(id, logger)
	}
}

func (p *Pool) run(id uuid.UUID, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.String("run_id", id.String()), zap.Any("panic", r))
		}
	}()

	err := p.exec.Execute(p.ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrConflict):
		// another executor owns the run or it was cancelled
		logger.Info("run skipped", zap.String("run_id", id.String()), zap.Error(err))
	default:
		logger.Warn("run ended with error", zap.String("run_id", id.String()), zap.Error(err))
	}
}

package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Config configures a worker pool
type Config struct {
	// Workers is the number of goroutines executing tasks
	Workers int
	// NonBlocking makes Submit fail instead of waiting when the pool is full
	NonBlocking bool
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:     8,
		NonBlocking: false,
	}
}

// Statistics tracks task outcomes
type Statistics struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool is a bounded worker pool built on ants
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New creates a new worker pool
func New(cfg *Config, logger *zap.Logger) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	opts := []ants.Option{}
	if cfg.NonBlocking {
		opts = append(opts, ants.WithNonblocking(true))
	}

	p, err := ants.NewPool(cfg.Workers, opts...)
	if err != nil {
		return nil, err
	}

	return &Pool{
		pool:   p,
		logger: logger,
	}, nil
}

// Submit schedules fn for execution. The returned error reports scheduling
// failures only; fn's own error is counted in the pool statistics.
func (p *Pool) Submit(fn func() error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	p.submitted.Add(1)

	return p.pool.Submit(func() {
		if err := fn(); err != nil {
			p.failed.Add(1)
			if p.logger != nil {
				p.logger.Warn("worker task failed", zap.Error(err))
			}
			return
		}
		p.completed.Add(1)
	})
}

// Run executes all tasks on the pool and waits for them to finish, honoring
// ctx cancellation between submissions.
func (p *Pool) Run(ctx context.Context, tasks []func() error) error {
	var wg sync.WaitGroup

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		task := task
		wg.Add(1)
		if err := p.Submit(func() error {
			defer wg.Done()
			return task()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}

	wg.Wait()
	return nil
}

// Stats returns a snapshot of the pool statistics
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Running returns the number of currently executing workers
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release stops the pool and waits for queued tasks to drain
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.pool.Release()
}

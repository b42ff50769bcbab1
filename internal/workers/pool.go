// Package workers provides a bounded goroutine pool for CPU-bound
// evaluation work such as in-sample grid searches.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
	PanicRecovery   bool          // Enable panic recovery in workers
}

// DefaultPoolConfig returns one worker per CPU, which suits CPU-bound tasks.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       4096,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool activity
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	PanicRecovered int64

	startTime time.Time
}

// PoolStats contains pool statistics
type PoolStats struct {
	Workers        int           `json:"workers"`
	QueueLength    int           `json:"queue_length"`
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	PanicRecovered int64         `json:"panic_recovered"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &PoolMetrics{startTime: time.Now()},
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

// run is the worker's main loop
func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.executeTask(logger, task)
		}
	}
}

// executeTask executes a single task with optional panic recovery
func (p *Pool) executeTask(logger *zap.Logger, task Task) {
	var err error
	func() {
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&p.metrics.PanicRecovered, 1)
					logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
			}()
		}
		err = task.Execute()
	}()

	if err != nil {
		atomic.AddInt64(&p.metrics.TasksFailed, 1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	atomic.AddInt64(&p.metrics.TasksCompleted, 1)
}

// Submit adds a task to the queue without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// SubmitWait submits a task and waits for completion
func (p *Pool) SubmitWait(task Task) error {
	done := make(chan error, 1)
	wrapper := TaskFunc(func() error {
		err := task.Execute()
		done <- err
		return err
	})

	if err := p.Submit(wrapper); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Map runs fn(i) for every i in [0, n) on the pool and blocks until all
// submitted calls return. Submission blocks while the queue is full. If ctx
// is cancelled, no further indices are submitted and ctx.Err() is returned
// once the in-flight calls finish; otherwise the lowest-index error is
// returned. Map must not be called from inside a pool task.
func (p *Pool) Map(ctx context.Context, n int, fn func(i int) error) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	var submitErr error

submit:
	for i := 0; i < n; i++ {
		idx := i
		wg.Add(1)
		task := TaskFunc(func() (err error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Recovered: r}
				}
				errs[idx] = err
			}()
			return fn(idx)
		})

		select {
		case p.taskQueue <- task:
			atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		case <-ctx.Done():
			wg.Done()
			submitErr = ctx.Err()
			break submit
		case <-p.ctx.Done():
			wg.Done()
			return ErrPoolStopped
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-p.ctx.Done():
		return ErrPoolStopped
	}

	if submitErr != nil {
		return submitErr
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the pool
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.config.NumWorkers
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.config.NumWorkers,
		QueueLength:    len(p.taskQueue),
		TasksSubmitted: atomic.LoadInt64(&p.metrics.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.metrics.TasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.metrics.TasksFailed),
		PanicRecovered: atomic.LoadInt64(&p.metrics.PanicRecovered),
		Uptime:         time.Since(p.metrics.startTime),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return "panic recovered"
}

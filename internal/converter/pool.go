package converter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/metrics"
	"github.com/harliandi/go-imgfit/pkg/progress"
	"github.com/harliandi/go-imgfit/pkg/quality"
)

// progressBuffer holds every report a single run can emit, so workers never
// block on a slow reader.
const progressBuffer = 4*quality.MaxIterations + 8

// Job represents a compression job. It owns its copy of the input bytes and
// talks to the submitter only through its channels.
type Job struct {
	ID       string
	ctx      context.Context
	input    quality.Input
	opts     quality.Options
	progress chan int
	result   chan Result
}

// Result represents the outcome of a compression job
type Result struct {
	Artifact *codec.Artifact
	Err      error
}

// WorkerPool manages a pool of worker goroutines for compression jobs
type WorkerPool struct {
	engine  *quality.Engine
	jobs    chan *Job
	workers int
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	stopped bool
	active  atomic.Int32
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(engine *quality.Engine, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		engine:  engine,
		jobs:    make(chan *Job, workers*2), // Buffered channel
		workers: workers,
	}
}

// Start starts the worker pool goroutines
func (p *WorkerPool) Start() {
	p.once.Do(func() {
		log.Printf("Starting worker pool with %d workers", p.workers)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// worker processes jobs from the job channel
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		active := p.active.Add(1)
		metrics.UpdateWorkerPoolMetrics(len(p.jobs), int(active))

		var result Result
		if err := progress.Check(job.ctx); err != nil {
			result.Err = err
		} else {
			result = p.run(job)
		}

		active = p.active.Add(-1)
		metrics.UpdateWorkerPoolMetrics(len(p.jobs), int(active))

		// Send result (non-blocking in case receiver is gone)
		select {
		case job.result <- result:
		default:
			log.Printf("Worker %d: result channel full for job %s", id, job.ID)
		}
	}
}

// run executes one job, turning a panic into ErrWorkerCrashed.
func (p *WorkerPool) run(job *Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panic recovered: %v", job.ID, r)
			result = Result{Err: &ExecutionContextError{
				JobID: job.ID,
				Err:   fmt.Errorf("%w: %v", ErrWorkerCrashed, r),
			}}
		}
	}()

	opts := job.opts
	opts.Progress = func(pct int) {
		select {
		case job.progress <- pct:
		default:
		}
	}
	result.Artifact, result.Err = p.engine.Run(job.ctx, job.input, opts)
	return result
}

// Available reports whether the pool accepts jobs.
func (p *WorkerPool) Available() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.stopped
}

// Submit runs a job on the pool and relays its progress to opts.Progress
// until the result arrives. Returns an ExecutionContextError wrapping
// ErrPoolBusy if the worker pool queue is full, or ErrPoolUnavailable after
// Stop.
func (p *WorkerPool) Submit(ctx context.Context, in quality.Input, opts quality.Options) (*codec.Artifact, error) {
	if err := progress.Check(ctx); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ExecutionContextError{Err: ErrPoolUnavailable}
	}

	// Start the pool if not already started
	p.Start()

	job := &Job{
		ID:  uuid.NewString(),
		ctx: ctx,
		input: quality.Input{
			Data:     append([]byte(nil), in.Data...),
			MIMEType: in.MIMEType,
		},
		opts:     opts,
		progress: make(chan int, progressBuffer),
		result:   make(chan Result, 1),
	}
	sink := opts.Progress

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, &ExecutionContextError{JobID: job.ID, Err: ErrPoolUnavailable}
	}
	// If the queue is full, return busy error immediately
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		return nil, &ExecutionContextError{JobID: job.ID, Err: ErrPoolBusy}
	}
	metrics.UpdateWorkerPoolMetrics(len(p.jobs), int(p.active.Load()))

	for {
		select {
		case <-ctx.Done():
			return nil, progress.Cancelled(context.Cause(ctx))
		case pct := <-job.progress:
			if sink != nil {
				sink(pct)
			}
		case result := <-job.result:
			drain(job.progress, sink)
			return result.Artifact, result.Err
		}
	}
}

func drain(ch <-chan int, sink progress.Sink) {
	for {
		select {
		case pct := <-ch:
			if sink != nil {
				sink(pct)
			}
		default:
			return
		}
	}
}

// SubmitWithRetry submits a job to the worker pool with retry on busy
func (p *WorkerPool) SubmitWithRetry(ctx context.Context, in quality.Input, opts quality.Options, maxRetries int) (*codec.Artifact, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		a, err := p.Submit(ctx, in, opts)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrPoolBusy) {
			return nil, err
		}
		lastErr = err
		if i == maxRetries-1 {
			break
		}

		// Wait a bit before retry (linear backoff)
		waitTime := time.Duration(i+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, progress.Cancelled(context.Cause(ctx))
		case <-time.After(waitTime):
		}
	}
	return nil, lastErr
}

// Stop gracefully shuts down the worker pool. Queued jobs still run.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	metrics.UpdateWorkerPoolMetrics(0, 0)
	log.Printf("Worker pool stopped")
}

// Stats returns current pool statistics
func (p *WorkerPool) Stats() (active, queued int) {
	return int(p.active.Load()), len(p.jobs)
}

// Process-wide worker pool, reused across requests
var (
	globalMu         sync.Mutex
	globalWorkerPool *WorkerPool
)

// InitGlobalWorkerPool starts the process-wide pool. Calling it again while
// the pool runs returns the existing pool.
func InitGlobalWorkerPool(engine *quality.Engine, workers int) *WorkerPool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalWorkerPool == nil || !globalWorkerPool.Available() {
		globalWorkerPool = NewWorkerPool(engine, workers)
		globalWorkerPool.Start()
	}
	return globalWorkerPool
}

// GlobalWorkerPool returns the process-wide pool, or nil before
// InitGlobalWorkerPool and after ShutdownGlobalWorkerPool.
func GlobalWorkerPool() *WorkerPool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalWorkerPool
}

// ShutdownGlobalWorkerPool stops and forgets the process-wide pool.
func ShutdownGlobalWorkerPool() {
	globalMu.Lock()
	p := globalWorkerPool
	globalWorkerPool = nil
	globalMu.Unlock()

	if p != nil {
		p.Stop()
	}
}

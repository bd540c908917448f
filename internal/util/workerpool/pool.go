package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work. ID names it in logs and in Batch results.
type Task struct {
	ID string
	Fn func(context.Context) error
}

// WorkerPool runs tasks on a fixed set of goroutines
type WorkerPool struct {
	name       string
	maxWorkers int
	queue      chan job
	logger     *zap.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopChan   chan struct{}

	activeWorkers  int32
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

type job struct {
	ctx  context.Context
	task Task
	done func(error)
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool starts cfg.MaxWorkers workers
func NewWorkerPool(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxWorkers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queue:      make(chan job, cfg.QueueSize),
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}
	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", cfg.QueueSize))
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case j := <-p.queue:
			j.done(p.execute(id, j))
		}
	}
}

func (p *WorkerPool) execute(workerID int, j job) error {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeExecute(j)
	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", j.task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	atomic.AddUint64(&p.completedTasks, 1)
	p.logger.Debug("Task completed",
		zap.String("pool", p.name),
		zap.String("task_id", j.task.ID),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *WorkerPool) safeExecute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.task.ID, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task.Fn(j.ctx)
}

func (p *WorkerPool) submit(ctx context.Context, j job) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	default:
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	case <-ctx.Done():
		atomic.AddUint64(&p.rejectedTasks, 1)
		return ctx.Err()
	case p.queue <- j:
		return nil
	}
}

// Batch runs tasks and waits for all of them. The result maps each task ID
// to its error; tasks that succeeded are absent. Tasks that could not be
// queued fail with the submit error.
func (p *WorkerPool) Batch(ctx context.Context, tasks []Task) map[string]error {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = make(map[string]error)
	)
	record := func(id string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		failed[id] = err
		mu.Unlock()
	}
	for _, t := range tasks {
		t := t
		wg.Add(1)
		j := job{ctx: ctx, task: t, done: func(err error) {
			record(t.ID, err)
			wg.Done()
		}}
		if err := p.submit(ctx, j); err != nil {
			record(t.ID, err)
			wg.Done()
		}
	}
	wg.Wait()
	return failed
}

// Stop waits up to timeout for the workers to finish their current task
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			// queued jobs never ran; release their batches
			for {
				select {
				case j := <-p.queue:
					atomic.AddUint64(&p.rejectedTasks, 1)
					j.done(fmt.Errorf("worker pool '%s' is stopped", p.name))
				default:
					close(done)
					return
				}
			}
		}()
		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
		}
	})
	return err
}

// Stats is a snapshot of pool counters
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueuedTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedTasks:    len(p.queue),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

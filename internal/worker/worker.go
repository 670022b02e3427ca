package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

const defaultQueueSize = 1000

type WorkerPool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	isClosing atomic.Bool // thread-safe value
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

func NewWorkerPool(size int, logger zerolog.Logger) *WorkerPool {
	return NewWorkerPoolWithQueue(size, defaultQueueSize, logger)
}

func NewWorkerPoolWithQueue(size, queueSize int, logger zerolog.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	wp := &WorkerPool{
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
	}

	// Start the workers
	for i := 0; i < size; i++ {
		wp.wg.Add(1) // add to WaitGroup
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		if err := wp.run(task); err != nil {
			wp.logger.Error().Err(err).Msg("Worker task failed")
		}
	}
}

func (wp *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(wp.ctx)
}

// Submit queues t and reports whether it was accepted. Tasks are dropped
// while shutting down or when the queue is full.
func (wp *WorkerPool) Submit(t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.isClosing.Load() {
		wp.logger.Warn().Msg("task submitted during shutdown, dropping.")
		return false
	}
	select {
	case wp.taskQueue <- t: // send task to worker pool
		return true
	default:
		wp.logger.Warn().Int("queue_size", cap(wp.taskQueue)).Msg("Task queue full, dropping task!")
		return false
	}
}

// Shutdown stops accepting tasks and waits for the queue to drain. When ctx
// ends first the context handed to running tasks is cancelled.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.isClosing.Swap(true) {
		close(wp.taskQueue) // Stop accepting new tasks
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait() // Wait for all active workers to finish tasks
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		<-done
		return ctx.Err()
	}
}

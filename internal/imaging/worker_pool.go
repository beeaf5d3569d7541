package imaging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ResizeJob represents a frame to be scaled by a worker
type ResizeJob struct {
	JobID  string
	Index  int
	Frame  Frame
	Width  int
	Height int
	Result chan *ResizeResult
}

// ResizeResult contains the result of a resize job
type ResizeResult struct {
	Index int
	Frame Frame
	Error error
}

// WorkerPool manages a pool of resize workers for concurrent frame processing
type WorkerPool struct {
	workers  int
	jobQueue chan *ResizeJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	stopOnce sync.Once
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 2 // default to 2 workers
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan *ResizeJob, workers*2), // buffer for 2x workers
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting resize worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping resize worker pool")
		wp.cancel()
		wp.wg.Wait()
		wp.logger.Info("Resize worker pool stopped")
	})
}

// ResizeAll scales every frame to width x height and returns them in their
// original order.
func (wp *WorkerPool) ResizeAll(ctx context.Context, jobID string, frames []Frame, width, height int) ([]Frame, error) {
	results := make(chan *ResizeResult, len(frames))

	for i, f := range frames {
		job := &ResizeJob{
			JobID:  jobID,
			Index:  i,
			Frame:  f,
			Width:  width,
			Height: height,
			Result: results,
		}
		select {
		case wp.jobQueue <- job:
			// Job submitted
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wp.ctx.Done():
			return nil, fmt.Errorf("worker pool is shutting down")
		}
	}

	out := make([]Frame, len(frames))
	for range frames {
		select {
		case result := <-results:
			if result.Error != nil {
				return nil, result.Error
			}
			out[result.Index] = result.Frame
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wp.ctx.Done():
			return nil, fmt.Errorf("worker pool is shutting down")
		}
	}
	return out, nil
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Resize worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Resize worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

// processJob handles a single resize job
func (wp *WorkerPool) processJob(workerID int, job *ResizeJob) {
	result := &ResizeResult{Index: job.Index}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Error = fmt.Errorf("resize frame %d: %v", job.Index, r)
			}
		}()
		result.Frame = Resize(job.Frame, job.Width, job.Height)
	}()

	// Result channel is buffered for every frame of the job
	job.Result <- result

	if result.Error != nil {
		wp.logger.Debug("Worker completed frame with error",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.JobID),
			zap.Int("frame", job.Index),
			zap.Error(result.Error))
	}
}

package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

type Job struct {
	Fn   func() error
	Errc chan error
}

// RequestQueueManager runs HTTP handlers on a fixed pool of workers so a
// burst of requests queues up instead of fanning out unbounded.
type RequestQueueManager struct {
	JobQueue   chan Job
	MaxWorkers int
	logger     *slog.Logger
	wg         sync.WaitGroup
	stop       sync.Once
}

func NewRequestQueueManager(queueSize int, maxWorkers int, logger *slog.Logger) *RequestQueueManager {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	manager := &RequestQueueManager{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		logger:     logger,
	}
	manager.startWorkers()
	return manager
}

func (rqm *RequestQueueManager) startWorkers() {
	for i := 0; i < rqm.MaxWorkers; i++ {
		rqm.wg.Add(1)
		go func(workerID int) {
			defer rqm.wg.Done()
			rqm.logger.Debug("queue: worker started", "worker", workerID)
			for job := range rqm.JobQueue {
				err := rqm.run(job.Fn)
				if job.Errc != nil {
					job.Errc <- err
				}
			}
			rqm.logger.Debug("queue: worker stopped", "worker", workerID)
		}(i)
	}
}

// run converts a panicking job into an error so the worker survives.
func (rqm *RequestQueueManager) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rqm.logger.Error("queue: job panicked", "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn()
}

func (rqm *RequestQueueManager) EnqueueJob(job Job) {
	rqm.JobQueue <- job
}

// Shutdown stops accepting jobs and waits for in-flight ones to finish.
func (rqm *RequestQueueManager) Shutdown() {
	rqm.stop.Do(func() {
		close(rqm.JobQueue)
	})
	rqm.wg.Wait()
}

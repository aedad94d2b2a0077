package worker

import (
	"context"
	"sync"

	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

// WorkerManager fans jobs out to a fixed pool of goroutines. The job channel
// may be shared with other producers, so Exit never closes it.
type WorkerManager struct {
	numberOfWorker int
	jobChannel     chan interface{}
	do             WorkerHandler
	ctx            context.Context
	cancel         context.CancelFunc
	waiter         sync.WaitGroup
}

func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue publishes a job. It returns false when the manager is shutting
// down or ctx ends before a slot frees up.
func (w *WorkerManager) Enqueue(ctx context.Context, val interface{}) bool {
	select {
	case w.jobChannel <- val:
		return true
	case <-ctx.Done():
		return false
	case <-w.ctx.Done():
		return false
	}
}

// Start runs the pool and blocks until Exit is called.
func (w *WorkerManager) Start() error {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.ctx.Done():
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()
	return w.ctx.Err()
}

func (w *WorkerManager) Exit() {
	logger.Info("worker manager is shutting down", "workers", w.numberOfWorker)
	w.cancel()
}

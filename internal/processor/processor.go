package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/nimasrn/loyalty-engine/internal/queue"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/prom"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
	"github.com/nimasrn/loyalty-engine/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const MetricsInterval = time.Second * 30
const ShutdownTimeout = time.Minute
const HighLagThreshold = 10_000

// Processor handles one decoded queue message.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

// Options sizes the consumer side of the service.
type Options struct {
	Queue     queue.QueueConfig
	Consumers int
	Workers   int
	// job buffer between the stream consumers and the worker pool
	BufferSize int
}

func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Queue:      app.LedgerQueueConfig(c),
		Consumers:  c.QueueConsumers,
		Workers:    c.QueueWorkers,
		BufferSize: c.QueueWorkers * 4,
	}
}

// ProcessorService reads the ledger events stream with several consumers
// and hands every message to a bounded worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	options   Options
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewProcessorService(adapter redis.RedisAdapter, options Options) *ProcessorService {
	if options.Consumers < 1 {
		options.Consumers = 1
	}
	if options.Workers < 1 {
		options.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		options: options,
		metrics: NewServiceMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager(options.BufferSize, options.Workers, nil),
	}
}

func (s *ProcessorService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("registered processor", "type", processor.GetType())
}

// Go runs fn in the background until the service stops.
func (s *ProcessorService) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *ProcessorService) Start() error {
	if s.processor == nil {
		return fmt.Errorf("no processor registered")
	}
	logger.Info("starting processor service", "stream", s.options.Queue.Name)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.options.Consumers; i++ {
		cfg := s.options.Queue
		cfg.ConsumerName = fmt.Sprintf("%s-instance-%d", cfg.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, cfg)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("processor service started", "consumers", len(s.queues), "workers", s.options.Workers)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("processor metrics",
		"total_processed", stats.Processed,
		"total_failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime_seconds", stats.Uptime.Seconds(),
		"worker_backlog", s.worker.GetUnreadCount(),
	)

	// every consumer reads the same stream, so one sample is enough
	if len(s.queues) == 0 {
		return
	}
	if qStats, err := s.queues[0].GetStats(); err == nil {
		prom.SetQueuePending(s.options.Queue.Name, qStats.PendingMessages)
		logger.Info("queue stats", "queue", s.options.Queue.Name, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck(ctx context.Context) bool {
	if err := s.adapter.Client().Ping(ctx).Err(); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return false
	}
	if len(s.queues) == 0 {
		return true
	}
	stats, err := s.queues[0].GetStats()
	if err != nil {
		logger.Warn("health check: queue stats unavailable", "queue", s.options.Queue.Name, "error", err)
		return false
	}
	if stats.PendingMessages > HighLagThreshold {
		logger.Warn("health check: queue has high lag", "queue", s.options.Queue.Name, "pending_messages", stats.PendingMessages)
	}
	return true
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")

	var stopWG sync.WaitGroup
	for _, q := range s.queues {
		stopWG.Add(1)
		go func(q *queue.Queue) {
			defer stopWG.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "queue", q.Name(), "error", err)
			}
		}(q)
	}
	stopWG.Wait()

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("processor service stopped")
}

type job struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler blocks the consumer until a worker has handled msg, so the
// ack still follows the outcome.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	j := &job{
		msg:        msg,
		resultChan: make(chan error, 1),
		ctx:        msgCtx,
	}
	if !s.worker.Enqueue(msgCtx, j) {
		return errors.New("worker pool unavailable")
	}

	select {
	case err := <-j.resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, payload interface{}) {
	j, ok := payload.(*job)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		logger.Warn("job expired before processing started", "worker", workerIndex, "id", j.msg.ID)
		return
	}

	done := prom.TrackInFlight(s.options.Queue.Name)
	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	done()
	if err != nil {
		s.metrics.RecordFailure()
		prom.ObserveProcessing(s.processor.GetType(), prom.ResultError, time.Since(start).Seconds())
		logger.Error("failed to process message", "worker", workerIndex, "id", j.msg.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
		prom.ObserveProcessing(s.processor.GetType(), prom.ResultOK, time.Since(start).Seconds())
	}

	// resultChan is buffered, the send never blocks
	j.resultChan <- err
}

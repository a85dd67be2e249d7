package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mailsweep/pkg/metrics"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int                       // worker goroutines in the main pool
	QueueSize        int                       // submission queue bound
	JobTimeout       time.Duration             // default per-job timeout
	JobTimeoutByType map[JobType]time.Duration // per-type overrides
	BatchSize        int
	WorkerChanSize   int
	MaxRetries       int
	SubmitRatePerSec float64 // submission rate limit, 0 disables
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:          8,
		QueueSize:        1000,
		JobTimeout:       30 * time.Second,
		BatchSize:        10,
		WorkerChanSize:   100,
		MaxRetries:       3,
		SubmitRatePerSec: 200,
		JobTimeoutByType: map[JobType]time.Duration{
			JobScanFull:        10 * time.Minute, // pages through the whole mailbox
			JobScanMessage:     30 * time.Second,
			JobUnsubscribe:     30 * time.Second,
			JobUnsubscribeBulk: 5 * time.Minute,
			JobDeferredRetry:   2 * time.Minute,
		},
	}
}

// Pool runs jobs on a go-pkgz/pool worker group. Jobs carrying a chunk key
// are routed to a fixed worker, which keeps same-sender scan jobs ordered
// without any locking in the detection path.
type Pool struct {
	handler *Handler
	config  *PoolConfig

	pool         *pool.WorkerGroup[*Message]
	priorityPool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	latency *metrics.LatencyRegistry
	log     zerolog.Logger

	limiter *rate.Limiter

	priorityJobs chan *Message

	dlq   chan *Message
	dlqWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed     int64
	JobsFailed        int64
	JobsDropped       int64
	JobsRetried       int64
	AvgProcessTime    int64 // milliseconds
	QueueSize         int32
	PriorityQueueSize int32
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if config.SubmitRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.SubmitRatePerSec), int(config.SubmitRatePerSec))
	}

	return &Pool{
		handler:      handler,
		config:       config,
		ctx:          ctx,
		cancel:       cancel,
		metrics:      &PoolMetrics{},
		latency:      metrics.NewLatencyRegistry(1000),
		log:          log.With().Str("component", "worker_pool").Logger(),
		limiter:      limiter,
		priorityJobs: make(chan *Message, config.QueueSize/10+1),
		dlq:          make(chan *Message, 100),
	}
}

// chunkKey routes a message to a worker. Messages without a key distribute
// round robin through a random key.
func chunkKey(msg *Message) string {
	if msg.ChunkKey != "" {
		return msg.ChunkKey
	}
	return msg.ID
}

// Start starts the worker pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithChunkFn(chunkKey).
		WithContinueOnError()

	p.priorityPool = pool.New[*Message](p.config.Workers/4+1, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize/2 + 1).
		WithWorkerChanSize(p.config.WorkerChanSize/2 + 1).
		WithChunkFn(chunkKey).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start main pool")
		return
	}
	if err := p.priorityPool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start priority pool")
		return
	}

	p.started = true

	p.dlqWg.Add(1)
	go p.dlqProcessor()
	go p.metricsReporter()
	go p.priorityQueueConsumer()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Msg("worker pool started")
}

// Stop gracefully stops the worker pool.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool...")

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if p.pool != nil {
		if err := p.pool.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing main pool")
		}
	}
	if p.priorityPool != nil {
		if err := p.priorityPool.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing priority pool")
		}
	}

	p.cancel()

	close(p.dlq)
	close(p.priorityJobs)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", p.metrics.JobsProcessed).
		Int64("failed", p.metrics.JobsFailed).
		Msg("worker pool stopped")
}

// Submit submits a job to the pool.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	if !p.started || p.pool == nil {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	if p.limiter != nil && !p.limiter.Allow() {
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Msg("job dropped due to rate limiting")
		return false
	}

	p.pool.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	return true
}

// SubmitBatch submits multiple jobs, returning how many were accepted.
func (p *Pool) SubmitBatch(msgs []*Message) int {
	submitted := 0
	for _, msg := range msgs {
		if p.Submit(msg) {
			submitted++
		}
	}
	return submitted
}

// SubmitPriority submits a priority job, falling back to the main queue when
// the priority queue is full. The send happens under the pool mutex so Stop
// cannot close the queue while a submission is in flight.
func (p *Pool) SubmitPriority(msg *Message) bool {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return false
	}
	select {
	case p.priorityJobs <- msg:
		atomic.AddInt32(&p.metrics.PriorityQueueSize, 1)
		p.mu.Unlock()
		return true
	default:
		p.mu.Unlock()
		return p.Submit(msg)
	}
}

func (p *Pool) priorityQueueConsumer() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.priorityJobs:
			if !ok {
				return
			}
			atomic.AddInt32(&p.metrics.PriorityQueueSize, -1)
			p.mu.Lock()
			started := p.started
			pp := p.priorityPool
			p.mu.Unlock()

			if started && pp != nil {
				pp.Submit(msg)
			}
		}
	}
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

// processJob runs one job with its type's timeout, retrying failures with
// exponential backoff and parking exhausted jobs in the DLQ.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer func() {
		atomic.AddInt32(&p.metrics.QueueSize, -1)
	}()

	timeout := p.getJobTimeout(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.handler.Process(jobCtx, msg)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-jobCtx.Done():
		err = jobCtx.Err()
		if err == context.DeadlineExceeded {
			p.log.Warn().
				Str("job_id", msg.ID).
				Str("job_type", msg.Type).
				Dur("timeout", timeout).
				Msg("job timed out")
		}
	}

	elapsed := time.Since(start)
	p.updateAvgProcessTime(elapsed.Milliseconds())
	p.latency.Record(msg.Type, elapsed)

	if err != nil {
		p.log.Error().
			Err(err).
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Int("retries", msg.Retries).
			Msg("job processing failed")

		if msg.Retries < p.config.MaxRetries {
			msg.Retries++
			atomic.AddInt64(&p.metrics.JobsRetried, 1)

			// exponential backoff with jitter to avoid thundering herd
			backoff := time.Duration(1<<msg.Retries)*time.Second +
				time.Duration(rand.Intn(500))*time.Millisecond
			time.AfterFunc(backoff, func() {
				p.Submit(msg)
			})
		} else {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
			select {
			case p.dlq <- msg:
				p.log.Warn().
					Str("job_id", msg.ID).
					Str("job_type", msg.Type).
					Msg("job moved to DLQ after max retries")
			default:
				p.log.Error().
					Str("job_id", msg.ID).
					Msg("DLQ full, job lost")
			}
		}
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	return nil
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
	} else {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
	}
}

func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()

	for {
		select {
		case <-p.ctx.Done():
			for msg := range p.dlq {
				p.log.Error().
					Str("job_id", msg.ID).
					Str("job_type", msg.Type).
					Msg("DLQ: job lost during shutdown")
			}
			return
		case msg, ok := <-p.dlq:
			if !ok {
				return
			}
			p.log.Error().
				Str("job_id", msg.ID).
				Str("job_type", msg.Type).
				Int("retries", msg.Retries).
				Interface("payload", msg.Payload).
				Msg("DLQ: job permanently failed")
		}
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
				Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
				Int64("dropped", atomic.LoadInt64(&p.metrics.JobsDropped)).
				Int64("retried", atomic.LoadInt64(&p.metrics.JobsRetried)).
				Int64("avg_process_ms", atomic.LoadInt64(&p.metrics.AvgProcessTime)).
				Int32("queue_size", atomic.LoadInt32(&p.metrics.QueueSize)).
				Int32("priority_queue", atomic.LoadInt32(&p.metrics.PriorityQueueSize)).
				Msg("worker pool metrics")

			for jobType, stats := range p.latency.AllStats() {
				if stats.Count == 0 {
					continue
				}
				p.log.Info().
					Str("job_type", jobType).
					Fields(stats.ToMap()).
					Msg("job latency")
			}
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:     atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:        atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:       atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsRetried:       atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime:    atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:         atomic.LoadInt32(&p.metrics.QueueSize),
		PriorityQueueSize: atomic.LoadInt32(&p.metrics.PriorityQueueSize),
	}
}

// LatencyStats returns per-job-type latency percentiles.
func (p *Pool) LatencyStats() map[string]metrics.LatencyStats {
	return p.latency.AllStats()
}

// Wait waits for all submitted jobs to complete.
func (p *Pool) Wait() error {
	p.mu.Lock()
	wg := p.pool
	p.mu.Unlock()

	if wg != nil {
		return wg.Wait(p.ctx)
	}
	return nil
}

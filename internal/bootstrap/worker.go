package bootstrap

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"mailsweep/adapter/in/worker"
	"mailsweep/config"
	"mailsweep/pkg/logger"
)

// Worker owns the job pool and the deferred retry scheduler.
type Worker struct {
	pool      *worker.Pool
	scheduler *worker.DeferredRetryScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().
		Str("component", "worker").
		Str("worker_id", cfg.WorkerID).
		Logger()

	scanProcessor := worker.NewScanProcessor(
		deps.DetectionService,
		logger.WithField("component", "scan_processor"),
	)
	unsubscribeProcessor := worker.NewUnsubscribeProcessor(
		deps.SubscriptionService,
		logger.WithField("component", "unsubscribe_processor"),
	)
	handler := worker.NewHandler(scanProcessor, unsubscribeProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.Workers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	scheduler := worker.NewDeferredRetryScheduler(
		deps.DetectionService,
		cfg.DeferredCheckInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		pool:      pool,
		scheduler: scheduler,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		zlog:      zlog,
	}
}

func (w *Worker) Start() {
	w.pool.Start()

	w.scheduler.Start()
	w.zlog.Info().Msg("Started deferred retry scheduler")

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.scheduler.Stop()
	w.pool.Stop()
}

func (w *Worker) Pool() *worker.Pool {
	return w.pool
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

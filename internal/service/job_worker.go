package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/reminder-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// JobHandler processes one queued dispatch job.
type JobHandler interface {
	HandleJob(ctx context.Context, job queue.DispatchJob) error
}

// JobWorker consumes queued batches. Batches still run one at a time since
// the handler serializes dispatch; extra consumers only overlap decoding.
type JobWorker struct {
	consumer    queue.Consumer
	handler     JobHandler
	logger      *zap.Logger
	concurrency int
}

func NewJobWorker(consumer queue.Consumer, handler JobHandler, concurrency int, logger *zap.Logger) (*JobWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JobWorker{
		consumer:    consumer,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes work queues until context cancellation.
func (w *JobWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.handler.HandleJob)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

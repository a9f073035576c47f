package queue

import (
	"context"
	"fmt"
)

// Publisher publishes dispatch jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, job DispatchJob) error
	Close() error
}

// MessageHandler handles a consumed dispatch job.
type MessageHandler func(ctx context.Context, job DispatchJob) error

// Consumer consumes dispatch jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// BulkQueue carries asynchronously submitted batches.
const BulkQueue = "dispatch.bulk"

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.dispatch.bulk.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{BulkQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}

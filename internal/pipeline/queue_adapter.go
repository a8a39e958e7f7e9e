package pipeline

import (
	"context"
	"time"

	"github.com/Ajay6601/docuflow-ai/internal/queue"
	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
)

// redisQueue adapts the redis-backed queue to the JobQueue interface, mostly
// to keep a nil *queue.Delivery from becoming a non-nil Delivery interface.
type redisQueue struct {
	q *queue.Queue
}

func NewRedisQueue(q *queue.Queue) JobQueue {
	return &redisQueue{q: q}
}

func (r *redisQueue) Enqueue(ctx context.Context, job models.ProcessingJob) error {
	return r.q.Enqueue(ctx, job)
}

func (r *redisQueue) EnqueueDelayed(ctx context.Context, job models.ProcessingJob, delay time.Duration) error {
	return r.q.EnqueueDelayed(ctx, job, delay)
}

func (r *redisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error) {
	d, err := r.q.Dequeue(ctx, timeout)
	if err != nil || d == nil {
		return nil, err
	}
	return d, nil
}

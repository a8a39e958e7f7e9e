package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

const (
	keyPending  = "docuflow:jobs:pending"
	keyInflight = "docuflow:jobs:inflight"
	keyDelayed  = "docuflow:jobs:delayed"
	leasePrefix = "docuflow:jobs:lease:"
)

func Connect(host string, port int, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))
	return client, nil
}

// Queue is a durable at-least-once job queue on Redis lists. A dequeued job
// sits on an inflight list under a leased claim; the reaper re-enqueues jobs
// whose lease expired without an ack.
type Queue struct {
	rdb   *redis.Client
	lease time.Duration
}

func New(rdb *redis.Client, lease time.Duration) *Queue {
	return &Queue{rdb: rdb, lease: lease}
}

func (q *Queue) Enqueue(ctx context.Context, job models.ProcessingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.rdb.LPush(ctx, keyPending, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Debug("Job enqueued",
		zap.String("document_id", job.DocumentID),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// EnqueueDelayed parks a job on a sorted set until its backoff elapses.
func (q *Queue) EnqueueDelayed(ctx context.Context, job models.ProcessingJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	readyAt := float64(time.Now().Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}

	logger.Debug("Job scheduled for retry",
		zap.String("document_id", job.DocumentID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
	)
	return nil
}

type Delivery struct {
	job     models.ProcessingJob
	payload string
	q       *Queue
}

func (d *Delivery) Job() models.ProcessingJob { return d.job }

// Ack removes the job from the inflight list and releases its lease.
func (d *Delivery) Ack(ctx context.Context) error {
	if err := d.q.rdb.LRem(ctx, keyInflight, 1, d.payload).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return d.q.rdb.Del(ctx, leasePrefix+d.job.DocumentID).Err()
}

// Heartbeat extends the lease so the reaper leaves the claim alone.
func (d *Delivery) Heartbeat(ctx context.Context) error {
	return d.q.rdb.Set(ctx, leasePrefix+d.job.DocumentID, d.payload, d.q.lease).Err()
}

// Dequeue blocks up to the given timeout for the next job. A nil delivery
// with nil error means the timeout elapsed with nothing pending.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	payload, err := q.rdb.BLMove(ctx, keyPending, keyInflight, "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job models.ProcessingJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Poison payload: drop it rather than wedge the queue.
		logger.Error("Discarding malformed job payload", zap.Error(err))
		q.rdb.LRem(ctx, keyInflight, 1, payload)
		return nil, nil
	}

	d := &Delivery{job: job, payload: payload, q: q}
	if err := d.Heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("failed to take lease: %w", err)
	}
	return d, nil
}

func (q *Queue) Depth(ctx context.Context) (pending, inflight int64, err error) {
	pending, err = q.rdb.LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, 0, err
	}
	inflight, err = q.rdb.LLen(ctx, keyInflight).Result()
	return pending, inflight, err
}

// RunMaintenance drives the delayed-job mover and the stale-claim reaper
// until the context is cancelled. Call it from a dedicated goroutine.
func (q *Queue) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.moveDue(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Delayed job mover failed", zap.Error(err))
			}
			if err := q.reapStale(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Stale claim reaper failed", zap.Error(err))
			}
		}
	}
}

func (q *Queue) moveDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	payloads, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, payload := range payloads {
		removed, err := q.rdb.ZRem(ctx, keyDelayed, payload).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another node already moved it
		}
		if err := q.rdb.LPush(ctx, keyPending, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) reapStale(ctx context.Context) error {
	payloads, err := q.rdb.LRange(ctx, keyInflight, 0, -1).Result()
	if err != nil {
		return err
	}

	for _, payload := range payloads {
		var job models.ProcessingJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.rdb.LRem(ctx, keyInflight, 1, payload)
			continue
		}

		alive, err := q.rdb.Exists(ctx, leasePrefix+job.DocumentID).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		removed, err := q.rdb.LRem(ctx, keyInflight, 1, payload).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, keyPending, payload).Err(); err != nil {
			return err
		}

		logger.Warn("Reclaimed job with expired lease",
			zap.String("document_id", job.DocumentID),
			zap.Int("attempt", job.Attempt),
		)
	}
	return nil
}

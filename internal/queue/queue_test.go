package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
)

func newTestQueue(t *testing.T, lease time.Duration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, lease), mr
}

func queuedJob(id string, attempt int) models.ProcessingJob {
	return models.ProcessingJob{
		DocumentID: id,
		Attempt:    attempt,
		EnqueuedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDequeueMovesInflightAndTakesLease(t *testing.T) {
	q, mr := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queuedJob("doc-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || d.Job().DocumentID != "doc-1" || d.Job().Attempt != 1 {
		t.Fatalf("delivery = %+v", d)
	}

	if !mr.Exists(leasePrefix + "doc-1") {
		t.Error("dequeue must take a lease on the claim")
	}
	pending, inflight, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if pending != 0 || inflight != 1 {
		t.Errorf("depth = (%d pending, %d inflight), want (0, 1)", pending, inflight)
	}
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)

	d, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d != nil {
		t.Errorf("empty queue returned delivery %+v", d)
	}
}

func TestAckReleasesClaim(t *testing.T) {
	q, mr := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queuedJob("doc-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx, time.Second)
	if err != nil || d == nil {
		t.Fatalf("Dequeue: %v, %v", d, err)
	}

	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if mr.Exists(leasePrefix + "doc-1") {
		t.Error("ack must release the lease")
	}
	pending, inflight, _ := q.Depth(ctx)
	if pending != 0 || inflight != 0 {
		t.Errorf("depth after ack = (%d, %d), want (0, 0)", pending, inflight)
	}

	// An acked job must not come back through the reaper.
	if err := q.reapStale(ctx); err != nil {
		t.Fatalf("reapStale: %v", err)
	}
	pending, _, _ = q.Depth(ctx)
	if pending != 0 {
		t.Error("acked job was re-enqueued")
	}
}

func TestReaperReclaimsExpiredLease(t *testing.T) {
	q, mr := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queuedJob("doc-1", 2)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, time.Second); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Worker dies without acking: let the lease expire.
	mr.FastForward(time.Second)

	if err := q.reapStale(ctx); err != nil {
		t.Fatalf("reapStale: %v", err)
	}
	pending, inflight, _ := q.Depth(ctx)
	if pending != 1 || inflight != 0 {
		t.Fatalf("depth after reap = (%d, %d), want (1, 0)", pending, inflight)
	}

	redelivered, err := q.Dequeue(ctx, time.Second)
	if err != nil || redelivered == nil {
		t.Fatalf("Dequeue after reap: %v, %v", redelivered, err)
	}
	if redelivered.Job().DocumentID != "doc-1" || redelivered.Job().Attempt != 2 {
		t.Errorf("redelivered job = %+v, attempt must survive the round trip", redelivered.Job())
	}
}

func TestReaperLeavesLiveClaims(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queuedJob("doc-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, time.Second); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.reapStale(ctx); err != nil {
		t.Fatalf("reapStale: %v", err)
	}
	pending, inflight, _ := q.Depth(ctx)
	if pending != 0 || inflight != 1 {
		t.Errorf("depth = (%d, %d), live claim must stay inflight", pending, inflight)
	}
}

func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	q, mr := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queuedJob("doc-1", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx, time.Second)
	if err != nil || d == nil {
		t.Fatalf("Dequeue: %v, %v", d, err)
	}

	// Two 45s hops: without the heartbeat in between, the 60s lease would
	// have expired before the second reap check.
	mr.FastForward(45 * time.Second)
	if err := d.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	mr.FastForward(45 * time.Second)

	if err := q.reapStale(ctx); err != nil {
		t.Fatalf("reapStale: %v", err)
	}
	pending, inflight, _ := q.Depth(ctx)
	if pending != 0 || inflight != 1 {
		t.Error("heartbeated claim must not be reclaimed")
	}
}

func TestDelayedJobPromotedWhenDue(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.EnqueueDelayed(ctx, queuedJob("due", 2), -time.Second); err != nil {
		t.Fatalf("EnqueueDelayed: %v", err)
	}
	if err := q.EnqueueDelayed(ctx, queuedJob("parked", 1), time.Hour); err != nil {
		t.Fatalf("EnqueueDelayed: %v", err)
	}

	if err := q.moveDue(ctx); err != nil {
		t.Fatalf("moveDue: %v", err)
	}

	pending, _, _ := q.Depth(ctx)
	if pending != 1 {
		t.Fatalf("pending = %d, only the due job may be promoted", pending)
	}
	d, err := q.Dequeue(ctx, time.Second)
	if err != nil || d == nil {
		t.Fatalf("Dequeue: %v, %v", d, err)
	}
	if d.Job().DocumentID != "due" || d.Job().Attempt != 2 {
		t.Errorf("promoted job = %+v", d.Job())
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	q, mr := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := mr.Lpush(keyPending, "{not json"); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d != nil {
		t.Fatalf("poison payload yielded delivery %+v", d)
	}
	pending, inflight, _ := q.Depth(ctx)
	if pending != 0 || inflight != 0 {
		t.Errorf("depth = (%d, %d), poison payload must not linger", pending, inflight)
	}
}

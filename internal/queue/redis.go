package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPending    = "dproc:queue:pending"
	keyScheduled  = "dproc:queue:scheduled"
	keyProcessing = "dproc:queue:processing"
	keyFailed     = "dproc:queue:failed"
	keyCompleted  = "dproc:queue:completed"
	keyEnvelope   = "dproc:queue:envelope"
	keyAttempts   = "dproc:queue:attempts"
	keyMaxAttempt = "dproc:queue:maxattempts"
)

// RedisQueue is the production C5 adapter: sorted sets provide priority
// ordering and durability across restarts, a processing set with a
// heartbeat deadline drives stall detection.
type RedisQueue struct {
	client *redis.Client
	logger *common.Logger
}

// NewRedisQueue connects to host:port, optionally authenticating with
// password, and pings to fail fast on misconfiguration.
func NewRedisQueue(ctx context.Context, logger *common.Logger, host string, port int, password string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis queue: ping %s:%d: %w", host, port, err)
	}
	return &RedisQueue{client: client, logger: logger}, nil
}

// NewRedisQueueFromClient wraps an already-constructed client, used by
// tests against a miniredis instance.
func NewRedisQueueFromClient(logger *common.Logger, client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, logger: logger}
}

func priorityScore(envelope models.JobEnvelope) float64 {
	return float64(envelope.Priority.QueueScore())*1e15 + float64(envelope.CreatedAt)
}

func (q *RedisQueue) Enqueue(ctx context.Context, envelope models.JobEnvelope, attempts int) error {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyEnvelope, envelope.JobID, data)
	pipe.HSet(ctx, keyAttempts, envelope.JobID, 0)
	pipe.HSet(ctx, keyMaxAttempt, envelope.JobID, attempts)
	pipe.ZAdd(ctx, keyPending, redis.Z{Score: priorityScore(envelope), Member: envelope.JobID})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Claim(ctx context.Context, workerID string) (*models.JobEnvelope, interfaces.QueueHandle, error) {
	now := time.Now()

	if err := q.promoteScheduledLocked(ctx, now); err != nil {
		return nil, nil, err
	}
	if err := q.reclaimStalledLocked(ctx, now); err != nil {
		return nil, nil, err
	}

	popped, err := q.client.ZPopMin(ctx, keyPending, 1).Result()
	if err != nil {
		return nil, nil, err
	}
	if len(popped) == 0 {
		return nil, nil, nil
	}
	jobID, _ := popped[0].Member.(string)

	raw, err := q.client.HGet(ctx, keyEnvelope, jobID).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis queue: envelope for %q missing: %w", jobID, err)
	}
	var envelope models.JobEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, nil, err
	}

	attempts, err := q.client.HIncrBy(ctx, keyAttempts, jobID, 1).Result()
	if err != nil {
		return nil, nil, err
	}

	deadline := now.Add(StallTimeout).UnixMilli()
	if err := q.client.ZAdd(ctx, keyProcessing, redis.Z{Score: float64(deadline), Member: jobID}).Err(); err != nil {
		return nil, nil, err
	}

	return &envelope, &envelopeHandle{jobID: jobID, attempts: int(attempts)}, nil
}

// promoteScheduledLocked moves due delayed-retry entries from the
// scheduled set into the pending set, re-scored for priority order.
func (q *RedisQueue) promoteScheduledLocked(ctx context.Context, now time.Time) error {
	due, err := q.client.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, jobID := range due {
		raw, err := q.client.HGet(ctx, keyEnvelope, jobID).Result()
		if err != nil {
			continue
		}
		var envelope models.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: priorityScore(envelope), Member: jobID})
		pipe.ZRem(ctx, keyScheduled, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStalledLocked re-delivers processing entries whose deadline has
// passed: a worker claimed them but never acked or nacked.
func (q *RedisQueue) reclaimStalledLocked(ctx context.Context, now time.Time) error {
	stalled, err := q.client.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, jobID := range stalled {
		raw, err := q.client.HGet(ctx, keyEnvelope, jobID).Result()
		if err != nil {
			continue
		}
		var envelope models.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: priorityScore(envelope), Member: jobID})
		pipe.ZRem(ctx, keyProcessing, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		q.logger.Warn().Str("jobId", jobID).Msg("reclaimed stalled envelope")
	}
	return nil
}

// Ack moves an envelope into the completed sorted set rather than
// deleting its hash entries outright, so it survives for
// CompletedRetention before PurgeExpired reaps it (spec.md §4.5).
func (q *RedisQueue) Ack(ctx context.Context, handle interfaces.QueueHandle) error {
	jobID := handle.EnvelopeJobID()
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, jobID)
	pipe.ZAdd(ctx, keyCompleted, redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Nack(ctx context.Context, handle interfaces.QueueHandle, cause error) error {
	jobID := handle.EnvelopeJobID()

	attemptsStr, err := q.client.HGet(ctx, keyAttempts, jobID).Result()
	if err != nil {
		return nil // already removed (e.g. concurrently Acked or purged)
	}
	attempts, _ := strconv.Atoi(attemptsStr)
	maxAttemptsStr, _ := q.client.HGet(ctx, keyMaxAttempt, jobID).Result()
	maxAttempts, _ := strconv.Atoi(maxAttemptsStr)
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, jobID)
	if attempts >= maxAttempts {
		pipe.ZAdd(ctx, keyFailed, redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
	} else {
		notBefore := time.Now().Add(nextBackoff(attempts)).UnixMilli()
		pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: float64(notBefore), Member: jobID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyPending, jobID)
	pipe.ZRem(ctx, keyScheduled, jobID)
	pipe.ZRem(ctx, keyProcessing, jobID)
	pipe.ZRem(ctx, keyFailed, jobID)
	pipe.ZRem(ctx, keyCompleted, jobID)
	pipe.HDel(ctx, keyEnvelope, jobID)
	pipe.HDel(ctx, keyAttempts, jobID)
	pipe.HDel(ctx, keyMaxAttempt, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, keyPending).Result()
	return int(n), err
}

// PurgeExpired deletes failed- and completed-tier envelopes older than
// their respective retention windows. Intended to be called periodically
// by the worker pool.
func (q *RedisQueue) PurgeExpired(ctx context.Context) error {
	if err := q.purgeTier(ctx, keyFailed, FailedRetention); err != nil {
		return err
	}
	return q.purgeTier(ctx, keyCompleted, CompletedRetention)
}

func (q *RedisQueue) purgeTier(ctx context.Context, key string, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	expired, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, jobID := range expired {
		if err := q.Remove(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ interfaces.QueueAdapter = (*RedisQueue)(nil)

package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

const (
	rowStatusPending   = "pending"
	rowStatusClaimed   = "claimed"
	rowStatusFailed    = "failed"
	rowStatusCompleted = "completed"
)

// envelopeRow is the badgerhold-tagged persistence shape of a queued
// JobEnvelope plus its adapter-level scheduling state.
type envelopeRow struct {
	JobID       string `badgerhold:"key"`
	Score       int64  `badgerholdIndex:"Score"`
	Status      string `badgerholdIndex:"Status"`
	NotBefore   time.Time
	ClaimedBy   string
	ClaimedAt   time.Time
	// TerminalAt is when the row entered a failed or completed tier; it
	// anchors PurgeExpired's retention-window comparison.
	TerminalAt  time.Time
	Attempts    int
	MaxAttempts int
	Envelope    models.JobEnvelope
}

// EmbeddedQueue is the badgerhold-backed embedded C5 adapter. Claim
// serializes select-then-claim under a mutex since badgerhold offers no
// compare-and-swap primitive of its own, mirroring the select-then-
// conditional-update shape of a durable job-queue claim.
type EmbeddedQueue struct {
	store  *badger.Store
	logger *common.Logger
	mu     sync.Mutex
}

// NewEmbeddedQueue opens (creating if needed) a badgerhold store at path.
func NewEmbeddedQueue(logger *common.Logger, path string) (*EmbeddedQueue, error) {
	s, err := badger.NewStore(logger, path)
	if err != nil {
		return nil, err
	}
	return &EmbeddedQueue{store: s, logger: logger}, nil
}

func (q *EmbeddedQueue) Enqueue(ctx context.Context, envelope models.JobEnvelope, attempts int) error {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	row := envelopeRow{
		JobID:       envelope.JobID,
		Score:       int64(envelope.Priority.QueueScore())*1e15 + envelope.CreatedAt,
		Status:      rowStatusPending,
		NotBefore:   time.Now(),
		MaxAttempts: attempts,
		Envelope:    envelope,
	}
	return q.store.DB().Insert(envelope.JobID, &row)
}

func (q *EmbeddedQueue) Claim(ctx context.Context, workerID string) (*models.JobEnvelope, interfaces.QueueHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var rows []envelopeRow
	if err := q.store.DB().Find(&rows, badgerhold.Where("Status").Eq(rowStatusPending)); err != nil {
		return nil, nil, err
	}

	var candidates []envelopeRow
	for _, r := range rows {
		if !r.NotBefore.After(now) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		q.reclaimStalledLocked(now)
		return nil, nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score < candidates[j].Score })
	row := candidates[0]
	row.Status = rowStatusClaimed
	row.ClaimedBy = workerID
	row.ClaimedAt = now
	row.Attempts++
	if err := q.store.DB().Update(row.JobID, &row); err != nil {
		return nil, nil, err
	}

	envelope := row.Envelope
	return &envelope, &envelopeHandle{jobID: row.JobID, attempts: row.Attempts}, nil
}

// reclaimStalledLocked re-delivers claimed envelopes whose heartbeat window
// has elapsed without an Ack/Nack. Must be called with q.mu held.
func (q *EmbeddedQueue) reclaimStalledLocked(now time.Time) {
	var claimed []envelopeRow
	if err := q.store.DB().Find(&claimed, badgerhold.Where("Status").Eq(rowStatusClaimed)); err != nil {
		return
	}
	for _, r := range claimed {
		if now.Sub(r.ClaimedAt) <= StallTimeout {
			continue
		}
		r.Status = rowStatusPending
		r.NotBefore = now
		r.ClaimedBy = ""
		if err := q.store.DB().Update(r.JobID, &r); err != nil {
			q.logger.Warn().Str("jobId", r.JobID).Err(err).Msg("failed to reclaim stalled envelope")
		}
	}
}

// Ack moves an envelope into the completed tier rather than deleting it
// outright, so it survives for CompletedRetention before PurgeExpired
// reaps it (spec.md §4.5).
func (q *EmbeddedQueue) Ack(ctx context.Context, handle interfaces.QueueHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobID := handle.EnvelopeJobID()
	var row envelopeRow
	if err := q.store.DB().Get(jobID, &row); err != nil {
		return nil
	}
	row.Status = rowStatusCompleted
	row.ClaimedBy = ""
	row.TerminalAt = time.Now()
	return q.store.DB().Update(jobID, &row)
}

func (q *EmbeddedQueue) Nack(ctx context.Context, handle interfaces.QueueHandle, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobID := handle.EnvelopeJobID()
	var row envelopeRow
	if err := q.store.DB().Get(jobID, &row); err != nil {
		return nil
	}

	if row.Attempts >= row.MaxAttempts {
		row.Status = rowStatusFailed
		row.ClaimedBy = ""
		row.TerminalAt = time.Now()
		return q.store.DB().Update(jobID, &row)
	}

	backoff := nextBackoff(row.Attempts)
	row.Status = rowStatusPending
	row.NotBefore = time.Now().Add(backoff)
	row.ClaimedBy = ""
	return q.store.DB().Update(jobID, &row)
}

func (q *EmbeddedQueue) Remove(ctx context.Context, jobID string) error {
	err := q.store.DB().Delete(jobID, envelopeRow{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (q *EmbeddedQueue) Size(ctx context.Context) (int, error) {
	n, err := q.store.DB().Count(&envelopeRow{}, badgerhold.Where("Status").Eq(rowStatusPending))
	return int(n), err
}

// PurgeExpired deletes failed- and completed-tier envelopes older than
// their respective retention windows. Intended to be called periodically
// by the worker pool.
func (q *EmbeddedQueue) PurgeExpired(ctx context.Context) error {
	if err := q.purgeTier(rowStatusFailed, FailedRetention); err != nil {
		return err
	}
	return q.purgeTier(rowStatusCompleted, CompletedRetention)
}

func (q *EmbeddedQueue) purgeTier(status string, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	var rows []envelopeRow
	if err := q.store.DB().Find(&rows, badgerhold.Where("Status").Eq(status)); err != nil {
		return err
	}
	for _, r := range rows {
		if r.TerminalAt.Before(cutoff) {
			if err := q.store.DB().Delete(r.JobID, envelopeRow{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *EmbeddedQueue) Close() error {
	return q.store.Close()
}

var _ interfaces.QueueAdapter = (*EmbeddedQueue)(nil)

// Package worker hosts the C7 worker pool: a fixed number of claim loops
// that pull envelopes off the queue adapter and run them through the
// executor, publishing operator-visible events as they go.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

const (
	defaultConcurrency      = 2
	defaultPollInterval     = 1 * time.Second
	defaultShutdownDeadline = 30 * time.Second

	// purgeInterval is how often the pool sweeps the queue's failed- and
	// completed-tier retention windows (spec.md §4.5).
	purgeInterval = 10 * time.Minute
)

// Config controls pool sizing and shutdown behavior.
type Config struct {
	Concurrency      int
	PollInterval     time.Duration
	ShutdownDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = defaultShutdownDeadline
	}
	return c
}

// Pool runs N concurrent claim loops against a QueueAdapter, executing each
// claimed envelope through the shared Executor and publishing events for
// every operator-visible state transition (spec.md §4.7).
type Pool struct {
	queue         interfaces.QueueAdapter
	exec          *executor.Executor
	cancellations *executor.CancellationRegistry
	events        *EventBus
	logger        *common.Logger
	cfg           Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker pool. cancellations must be the same registry passed
// to executor.New, so a forced shutdown can reach in-flight runs.
func New(queue interfaces.QueueAdapter, exec *executor.Executor, cancellations *executor.CancellationRegistry, logger *common.Logger, cfg Config) *Pool {
	return &Pool{
		queue:         queue,
		exec:          exec,
		cancellations: cancellations,
		events:        NewEventBus(),
		logger:        logger,
		cfg:           cfg.withDefaults(),
	}
}

// Events exposes the pool's event bus for external subscription (an HTTP
// surface relaying to its own clients, operator tooling, etc).
func (p *Pool) Events() *EventBus {
	return p.events
}

// safeGo launches a goroutine with panic recovery and logging, tracked by
// the pool's WaitGroup so Stop can wait for it to exit.
func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Start launches cfg.Concurrency claim loops. Safe to call once; call Stop
// before calling Start again.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := "worker-" + uuid.New().String()[:8]
		p.safeGo(workerID, func() { p.claimLoop(ctx, workerID) })
	}
	p.safeGo("queue-purge", func() { p.purgeLoop(ctx) })

	p.logger.Info().
		Int("concurrency", p.cfg.Concurrency).
		Dur("poll_interval", p.cfg.PollInterval).
		Msg("Worker pool started")
}

// Stop halts claiming, waits up to ShutdownDeadline for in-flight
// executions to finish on their own, then force-cancels any still running
// and waits for the (now-bounded) goroutines to exit.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Worker pool stopped")
		return
	case <-time.After(p.cfg.ShutdownDeadline):
		p.logger.Warn().
			Dur("deadline", p.cfg.ShutdownDeadline).
			Msg("Shutdown deadline reached, force-cancelling in-flight executions")
		p.cancellations.CancelAll()
	}

	<-done
	p.logger.Info().Msg("Worker pool stopped after forced cancellation")
}

// claimLoop repeatedly claims and executes envelopes until ctx is cancelled.
func (p *Pool) claimLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		envelope, handle, err := p.queue.Claim(ctx, workerID)
		if err != nil {
			p.logger.Warn().Str("worker_id", workerID).Err(err).Msg("Claim error")
			if !p.sleep(ctx) {
				return
			}
			continue
		}
		if envelope == nil {
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		// Runs are detached from the pool's stop signal; Stop force-cancels
		// them through the cancellation registry after ShutdownDeadline.
		p.runOne(context.WithoutCancel(ctx), workerID, *envelope, handle)
	}
}

// purgeLoop periodically reaps failed- and completed-tier envelopes past
// their retention window until ctx is cancelled.
func (p *Pool) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.PurgeExpired(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Queue retention purge failed")
			}
		}
	}
}

// sleep waits for the poll interval or ctx cancellation, reporting whether
// the caller should keep looping (false means ctx was cancelled).
func (p *Pool) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.cfg.PollInterval):
		return true
	}
}

// runOne executes one claimed envelope through the executor, publishes the
// corresponding events, and acks/nacks the queue handle based on outcome.
func (p *Pool) runOne(ctx context.Context, workerID string, envelope models.JobEnvelope, handle interfaces.QueueHandle) {
	queueSize, _ := p.queue.Size(ctx)
	p.publish("active", "", envelope.JobID, models.StatusProcessing, queueSize)

	start := time.Now()
	executionID, err := p.exec.Run(ctx, envelope)
	durationMS := time.Since(start).Milliseconds()

	logEvt := p.logger.Debug().
		Str("worker_id", workerID).
		Str("job_id", envelope.JobID).
		Str("execution_id", executionID).
		Int64("duration_ms", durationMS)

	switch {
	case err == nil:
		logEvt.Msg("Execution completed")
		p.publish("completed", executionID, envelope.JobID, models.StatusCompleted, queueSize)
		if ackErr := p.queue.Ack(ctx, handle); ackErr != nil {
			p.logger.Warn().Str("job_id", envelope.JobID).Err(ackErr).Msg("Ack failed")
		}

	case errors.Is(err, context.Canceled):
		p.logger.Info().Str("worker_id", workerID).Str("job_id", envelope.JobID).Msg("Execution cancelled")
		p.publish("cancelled", executionID, envelope.JobID, models.StatusCancelled, queueSize)
		// The record is already terminal; acking prevents a redelivery that
		// would otherwise hit an illegal queued/processing->cancelled retry.
		if ackErr := p.queue.Ack(ctx, handle); ackErr != nil {
			p.logger.Warn().Str("job_id", envelope.JobID).Err(ackErr).Msg("Ack failed after cancellation")
		}

	default:
		p.logger.Warn().
			Str("worker_id", workerID).
			Str("job_id", envelope.JobID).
			Int64("duration_ms", durationMS).
			Err(err).
			Msg("Execution failed")
		p.publish("failed", executionID, envelope.JobID, models.StatusFailed, queueSize)
		if nackErr := p.queue.Nack(ctx, handle, err); nackErr != nil {
			p.logger.Warn().Str("job_id", envelope.JobID).Err(nackErr).Msg("Nack failed")
			p.publish("error", executionID, envelope.JobID, models.StatusFailed, queueSize)
		}
	}
}

func (p *Pool) publish(eventType, executionID, jobID string, status models.Status, queueSize int) {
	p.events.Publish(models.JobEvent{
		Type:        eventType,
		ExecutionID: executionID,
		JobID:       jobID,
		Status:      status,
		Timestamp:   time.Now(),
		QueueSize:   queueSize,
	})
}

// Package queue implements the C5 Queue Adapter contract against two
// pluggable backends: an embedded badgerhold-backed queue (dev) and Redis
// (production), selected by the presence of REDIS_HOST per spec.md §6.
package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

// DefaultMaxAttempts is applied when Enqueue is called with attempts <= 0.
const DefaultMaxAttempts = 3

// Backoff parameters per spec.md §4.5: base 2s, factor 2, capped by attempts.
const (
	backoffInitialInterval = 2 * time.Second
	backoffMultiplier      = 2.0
)

// Retention windows per spec.md §4.5.
const (
	FailedRetention    = 7 * 24 * time.Hour
	CompletedRetention = 24 * time.Hour
)

// StallTimeout is the heartbeat window after which a claimed-but-unacked
// envelope is considered stalled and re-delivered.
const StallTimeout = 2 * time.Minute

// envelopeHandle is the QueueHandle both backends hand back from Claim.
type envelopeHandle struct {
	jobID    string
	attempts int
}

func (h *envelopeHandle) EnvelopeJobID() string { return h.jobID }

var _ interfaces.QueueHandle = (*envelopeHandle)(nil)

// nextBackoff returns the delay before redelivering an envelope whose
// delivery has failed attempt times (attempt >= 1): 2s after the first
// failure, doubling after each further one, per spec.md §4.5.
func nextBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitialInterval
	b.Multiplier = backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

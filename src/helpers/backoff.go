package helpers

import "time"

// -----------------------------------------------------------------------------
// Reconnect Policy
// -----------------------------------------------------------------------------

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 32 * time.Second
)

// ReconnectPolicy drives both the upstream ingester and the client SDK.
// MaxAttempts of 0 means retry forever.
type ReconnectPolicy struct {
	AutoReconnect bool
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Delay returns min(base * 2^attempt, max) for attempt = 0, 1, 2, ...
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Exhausted reports whether attempt consecutive failures use up the budget.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

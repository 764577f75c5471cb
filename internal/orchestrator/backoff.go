package orchestrator

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/prudhvinik1/syncbridge/internal/config"
)

// ErrReconnectExhausted is fatal: the process exits so a supervisor can
// restart it.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Backoff is an exponential reconnect policy with a bounded number of
// consecutive failures. It is safe for concurrent use.
type Backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts int
}

func NewBackoff(cfg config.ReconnectConfig) *Backoff {
	return &Backoff{base: cfg.BaseDelay, max: cfg.MaxDelay, maxAttempts: cfg.MaxAttempts}
}

// Next records a failure and returns how long to wait before retrying.
// Failure number maxAttempts+1 returns ErrReconnectExhausted.
func (b *Backoff) Next() (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.attempts > b.maxAttempts {
		return 0, ErrReconnectExhausted
	}
	delay := float64(b.base) * math.Pow(2, float64(b.attempts-1))
	if b.max > 0 && delay > float64(b.max) {
		delay = float64(b.max)
	}
	return time.Duration(delay), nil
}

// Reset is called after every successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

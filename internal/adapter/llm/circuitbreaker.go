package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerFailover wraps a Failover with circuit breaker protection. When the
// whole rotation loop keeps failing, the circuit opens and subsequent calls
// fail fast without burning through cooldowns and rate budget.
//
// A request rejection counts as success for breaker health: it means the
// provider answered, just not for that payload.
type BreakerFailover struct {
	inner   *Failover
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewBreakerFailover wraps inner with a circuit breaker.
// Zero-valued settings fall back to defaults.
func NewBreakerFailover(name string, inner *Failover, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerFailover {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrRejected)
		},
	})

	return &BreakerFailover{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Generate routes the call through the circuit breaker.
func (b *BreakerFailover) Generate(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.ChatResponse, error) {
		return b.inner.Generate(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrKeysExhausted, err)
		}
		return nil, err
	}
	return resp, nil
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerFailover) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (b *BreakerFailover) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}

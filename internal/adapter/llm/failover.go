package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
	"kotori-ai/internal/infra/tracer"
)

// Failover drives one provider's credential rotation. Each call walks the key
// pool in slot order, retrying transient failures on the next credential and
// marking cooldowns so concurrent requests skip keys that just failed. A
// request rejection ends the call immediately: no other key would fare
// better for the same payload.
type Failover struct {
	provider domain.Provider
	pool     *KeyPool
	limiter  *rate.Limiter // nil when the provider has no request budget
	cfg      config.FailoverConfig
	logger   *slog.Logger
}

// NewFailover creates the rotation loop for one provider.
func NewFailover(provider domain.Provider, pool *KeyPool, limiter *rate.Limiter, cfg config.FailoverConfig, logger *slog.Logger) *Failover {
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = 30 * time.Second
	}
	if cfg.ShortCooldown <= 0 {
		cfg.ShortCooldown = 5 * time.Second
	}
	return &Failover{
		provider: provider,
		pool:     pool,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Generate performs one chat request with automatic credential rotation.
//
// Attempt accounting: every failed invocation counts toward the attempt
// budget, which defaults to the pool size. A hard cap of twice the budget
// bounds the loop even when cooldowns expire mid-request and slots become
// eligible again.
func (f *Failover) Generate(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.failover")
	defer span.End()

	maxAttempts := f.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = f.pool.Size()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	hardCap := 2 * maxAttempts

	exclude := make(map[int]bool)
	var attemptErrs []error

	for attempt := 0; attempt < hardCap; attempt++ {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		if len(attemptErrs) >= maxAttempts {
			break
		}

		cred, err := f.pool.Next(exclude)
		if err != nil {
			// Pool exhausted before the attempt budget; report what failed.
			exhausted := f.exhaustedError(attemptErrs, err)
			tracer.RecordError(span, exhausted)
			return nil, exhausted
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				tracer.RecordError(span, err)
				return nil, err
			}
		}

		resp, err := f.provider.Invoke(ctx, cred, req)
		if err == nil {
			if attempt > 0 {
				f.logger.Info("failover succeeded",
					"provider", f.provider.Name(),
					"slot", cred.Slot,
					"attempt", attempt+1,
				)
			}
			tracer.SetOK(span)
			return resp, nil
		}

		if !domain.IsRetryable(err) {
			// Rejections and other terminal failures surface as-is; the
			// credential stays healthy.
			tracer.RecordError(span, err)
			return nil, err
		}

		f.absorb(cred, err)
		exclude[cred.Slot] = true
		attemptErrs = append(attemptErrs, fmt.Errorf("slot %d: %w", cred.Slot, err))

		f.logger.Warn("llm attempt failed, rotating credential",
			"provider", f.provider.Name(),
			"slot", cred.Slot,
			"attempt", attempt+1,
			"error", err,
		)
	}

	exhausted := f.exhaustedError(attemptErrs, nil)
	tracer.RecordError(span, exhausted)
	return nil, exhausted
}

// absorb records a retryable failure against the credential's slot.
func (f *Failover) absorb(cred domain.Credential, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthInvalid):
		f.pool.MarkBadCredential(cred.Slot)
	case errors.Is(err, domain.ErrRateLimit):
		cooldown := f.cfg.DefaultCooldown
		var rle *domain.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			cooldown = rle.RetryAfter
		}
		f.pool.MarkCooldown(cred.Slot, cooldown)
	default: // network, server error
		f.pool.MarkCooldown(cred.Slot, f.cfg.ShortCooldown)
	}
}

// exhaustedError aggregates per-slot failures under ErrKeysExhausted.
func (f *Failover) exhaustedError(attemptErrs []error, poolErr error) error {
	detail := fmt.Sprintf("provider %s: %d attempt(s) failed", f.provider.Name(), len(attemptErrs))
	joined := errors.Join(attemptErrs...)
	switch {
	case poolErr != nil && joined != nil:
		return fmt.Errorf("%s: %w: %w", detail, poolErr, joined)
	case poolErr != nil:
		return fmt.Errorf("%s: %w", detail, poolErr)
	case joined != nil:
		return fmt.Errorf("%s: %w: %w", detail, domain.ErrKeysExhausted, joined)
	default:
		return fmt.Errorf("%s: %w", detail, domain.ErrKeysExhausted)
	}
}

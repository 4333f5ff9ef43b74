package llm

import (
	"fmt"
	"sync"
	"time"

	"kotori-ai/internal/domain"
)

// KeyPool manages the ordered credential slots of one provider. Slot 0 is the
// most preferred credential; selection always walks slots in ascending order,
// so the pool drifts back to the cheapest key as cooldowns expire. Cooldown
// and disabled state is shared across all in-flight requests.
type KeyPool struct {
	provider string

	mu    sync.Mutex
	slots []keySlot

	// badCredentialCooldown > 0 re-enables a rejected credential after the
	// given duration; 0 disables it for the process lifetime.
	badCredentialCooldown time.Duration

	now func() time.Time // test hook
}

type keySlot struct {
	secret        string
	cooldownUntil time.Time
	disabled      bool
}

// NewKeyPool creates a pool over the configured secrets in slot order.
func NewKeyPool(provider string, secrets []string, badCredentialCooldown time.Duration) *KeyPool {
	slots := make([]keySlot, len(secrets))
	for i, s := range secrets {
		slots[i] = keySlot{secret: s}
	}
	return &KeyPool{
		provider:              provider,
		slots:                 slots,
		badCredentialCooldown: badCredentialCooldown,
		now:                   time.Now,
	}
}

// Size returns the number of configured slots, regardless of state.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Next returns the lowest eligible slot: not disabled, not cooling down, and
// not in the caller's per-request exclude set. An expired cooldown makes a
// slot eligible again with no extra bookkeeping. When no slot qualifies it
// returns domain.ErrKeysExhausted.
func (p *KeyPool) Next(exclude map[int]bool) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := range p.slots {
		s := &p.slots[i]
		if s.disabled || exclude[i] {
			continue
		}
		if now.Before(s.cooldownUntil) {
			continue
		}
		return domain.Credential{Provider: p.provider, Slot: i, Secret: s.secret}, nil
	}
	return domain.Credential{}, fmt.Errorf("%w: provider %s: %d slot(s), none eligible",
		domain.ErrKeysExhausted, p.provider, len(p.slots))
}

// MarkCooldown makes the slot ineligible until d from now. A later mark with a
// shorter duration never shortens an existing cooldown.
func (p *KeyPool) MarkCooldown(slot int, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || slot >= len(p.slots) {
		return
	}
	until := p.now().Add(d)
	if until.After(p.slots[slot].cooldownUntil) {
		p.slots[slot].cooldownUntil = until
	}
}

// MarkBadCredential handles an authentication rejection for the slot. With a
// configured bad-credential cooldown the slot goes on a long cooldown;
// otherwise it is disabled until restart.
func (p *KeyPool) MarkBadCredential(slot int) {
	if p.badCredentialCooldown > 0 {
		p.MarkCooldown(slot, p.badCredentialCooldown)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return
	}
	p.slots[slot].disabled = true
}

// Disabled reports whether the slot has been permanently disabled.
func (p *KeyPool) Disabled(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return false
	}
	return p.slots[slot].disabled
}

package usecase

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"kotori-ai/internal/domain"
)

// tokenEncoding is cl100k_base; close enough across the model families we
// route to, and the history budget only needs an estimate.
const tokenEncoding = "cl100k_base"

// messageOverhead approximates the per-message framing tokens (role, separators).
const messageOverhead = 4

// TokenEstimator counts prompt tokens for the history budget. When the
// tiktoken encoding cannot be loaded it falls back to chars/4.
type TokenEstimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// NewTokenEstimator creates an estimator, falling back to the char heuristic
// on encoding load failure.
func NewTokenEstimator(logger *slog.Logger) *TokenEstimator {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using char-based estimate", "error", err)
		return &TokenEstimator{}
	}
	return &TokenEstimator{encoding: enc}
}

// Count returns the token count for a string.
func (e *TokenEstimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessage returns the token count of one turn including framing overhead.
func (e *TokenEstimator) CountMessage(m domain.Message) int {
	return e.Count(m.Content) + e.Count(m.Name) + messageOverhead
}

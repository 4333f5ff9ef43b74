package usecase

import (
	"sync"
	"time"

	"kotori-ai/internal/domain"
)

// ConversationStore keeps per-channel chat history in memory. History is a
// capped FIFO: old turns fall off when the turn cap or the token budget is
// exceeded. Reads return snapshots, and a multi-message Append commits
// atomically, so concurrent exchanges never interleave inside a turn pair.
type ConversationStore struct {
	mu    sync.Mutex
	convs map[string]*conversation

	maxTurns  int
	maxTokens int // 0 = no token budget
	estimator *TokenEstimator

	now func() time.Time // test hook
}

type conversation struct {
	mu         sync.Mutex
	messages   []domain.Message
	lastActive time.Time
}

// NewConversationStore creates a store bounded by maxTurns and, when
// maxTokens > 0 and an estimator is given, by a prompt token budget.
func NewConversationStore(maxTurns, maxTokens int, estimator *TokenEstimator) *ConversationStore {
	if maxTurns <= 0 {
		maxTurns = 40
	}
	return &ConversationStore{
		convs:     make(map[string]*conversation),
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		estimator: estimator,
		now:       time.Now,
	}
}

// lockConv returns the channel's conversation with its lock held. The lookup
// and the lock acquisition both happen under the store lock, so a concurrent
// reap can never delete an entry between a caller's fetch and its first write.
func (s *ConversationStore) lockConv(channelID string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[channelID]
	if !ok {
		c = &conversation{}
		s.convs[channelID] = c
	}
	c.mu.Lock()
	return c
}

// History returns a snapshot of the channel's turns, oldest first.
func (s *ConversationStore) History(channelID string) []domain.Message {
	c := s.lockConv(channelID)
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds turns to the channel and evicts from the front until the turn
// cap and token budget hold again. All msgs land in one critical section, so
// a user/assistant pair is committed as a unit.
func (s *ConversationStore) Append(channelID string, msgs ...domain.Message) {
	c := s.lockConv(channelID)
	defer c.mu.Unlock()

	c.messages = append(c.messages, msgs...)
	c.lastActive = s.now()

	if n := len(c.messages) - s.maxTurns; n > 0 {
		c.messages = append(c.messages[:0:0], c.messages[n:]...)
	}
	s.evictOverBudget(c)
}

// evictOverBudget drops oldest turns while the estimated token total exceeds
// the budget, always keeping at least the newest turn.
func (s *ConversationStore) evictOverBudget(c *conversation) {
	if s.maxTokens <= 0 || s.estimator == nil {
		return
	}

	total := 0
	for _, m := range c.messages {
		total += s.estimator.CountMessage(m)
	}
	drop := 0
	for total > s.maxTokens && drop < len(c.messages)-1 {
		total -= s.estimator.CountMessage(c.messages[drop])
		drop++
	}
	if drop > 0 {
		c.messages = append(c.messages[:0:0], c.messages[drop:]...)
	}
}

// Reset clears the channel's history. It reports whether there was any.
func (s *ConversationStore) Reset(channelID string) bool {
	c := s.lockConv(channelID)
	defer c.mu.Unlock()
	had := len(c.messages) > 0
	c.messages = nil
	return had
}

// ReapStale removes conversations idle for longer than staleAfter and
// returns how many were dropped. Deletion happens under the store lock, the
// same lock every lookup holds, so nobody can be left holding a conversation
// that is no longer in the map.
func (s *ConversationStore) ReapStale(staleAfter time.Duration) int {
	cutoff := s.now().Add(-staleAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, c := range s.convs {
		c.mu.Lock()
		stale := !c.lastActive.IsZero() && c.lastActive.Before(cutoff)
		c.mu.Unlock()
		if stale {
			delete(s.convs, id)
			reaped++
		}
	}
	return reaped
}

// Size returns the number of tracked channels.
func (s *ConversationStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

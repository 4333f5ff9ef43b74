package usecase

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically drops conversations that have gone idle, keeping the
// in-memory store bounded on servers with many quiet channels.
type Reaper struct {
	cron       *cron.Cron
	store      *ConversationStore
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewReaper schedules ReapStale on the given cron expression
// (e.g. "@hourly" or "*/30 * * * *").
func NewReaper(store *ConversationStore, schedule string, staleAfter time.Duration, logger *slog.Logger) (*Reaper, error) {
	r := &Reaper{
		cron:       cron.New(),
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reaper) sweep() {
	if n := r.store.ReapStale(r.staleAfter); n > 0 {
		r.logger.Info("reaped stale conversations", "count", n, "remaining", r.store.Size())
	}
}

// Start begins the schedule.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

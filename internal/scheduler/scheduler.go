// Package scheduler owns the ephemeral-notification registry: every live
// notification message has exactly one deletion timer, cancellable and
// replaceable. The clock is injected so tests never wait on wall time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
)

// Deleter removes one platform message. A domain.ErrMessageNotFound result
// means the message is already gone.
type Deleter interface {
	DeleteMessage(ctx context.Context, handle domain.MessageHandle) error
}

// Lister enumerates bot-authored messages in a channel, for sweeps that
// must cover prior process lifetimes the in-memory registry never saw.
type Lister interface {
	ListBotMessages(ctx context.Context, channelID string) ([]domain.MessageHandle, error)
}

type Scheduler struct {
	deleter Deleter
	clock   clock.Clock
	logger  zerolog.Logger

	mu     sync.Mutex
	timers map[string]*clock.Timer
}

func New(deleter Deleter, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		deleter: deleter,
		clock:   clk,
		logger:  logger,
		timers:  make(map[string]*clock.Timer),
	}
}

// Schedule arms deletion of handle after ttl. Scheduling a handle that
// already has a timer replaces it, keeping at most one timer per handle.
func (s *Scheduler) Schedule(handle domain.MessageHandle, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := handle.Key()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = s.clock.AfterFunc(ttl, func() {
		s.fire(handle)
	})

	s.logger.Debug().
		Str("message", key).
		Dur("ttl", ttl).
		Msg("deletion scheduled")
}

// Cancel disarms any pending deletion for handle, e.g. when a newer
// notification to the same recipient supersedes it.
func (s *Scheduler) Cancel(handle domain.MessageHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := handle.Key()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
		s.logger.Debug().Str("message", key).Msg("deletion cancelled")
	}
}

// fire attempts the deletion and drops the registry entry regardless of the
// result. A missed deletion is cosmetic, so there is no retry.
func (s *Scheduler) fire(handle domain.MessageHandle) {
	s.mu.Lock()
	delete(s.timers, handle.Key())
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), constants.DeleteTimeout)
	defer cancel()

	err := s.deleter.DeleteMessage(ctx, handle)
	switch {
	case err == nil:
		s.logger.Debug().Str("message", handle.Key()).Msg("notification deleted")
	case errors.Is(err, domain.ErrMessageNotFound):
		s.logger.Debug().Str("message", handle.Key()).Msg("notification already gone")
	default:
		s.logger.Error().Err(err).Str("message", handle.Key()).Msg("failed to delete notification")
	}
}

// Drain stops and discards every pending timer. Used at shutdown; messages
// left behind are picked up by the next startup's BulkCleanup.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.logger.Info().Msg("scheduler drained")
}

// Pending reports the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// BulkCleanup sweeps bot-authored messages out of the given channels,
// independent of the registry. Best-effort: listing or deletion failures are
// logged and skipped. Returns how many messages were removed.
func (s *Scheduler) BulkCleanup(ctx context.Context, lister Lister, channelIDs []string) int {
	deleted := 0
	for _, channelID := range channelIDs {
		handles, err := lister.ListBotMessages(ctx, channelID)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel_id", channelID).Msg("failed to list bot messages")
			continue
		}
		for _, h := range handles {
			err := s.deleter.DeleteMessage(ctx, h)
			if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
				s.logger.Warn().Err(err).Str("message", h.Key()).Msg("failed to delete stale message")
				continue
			}
			deleted++
		}
	}
	s.logger.Info().Int("deleted", deleted).Msg("bulk cleanup finished")
	return deleted
}

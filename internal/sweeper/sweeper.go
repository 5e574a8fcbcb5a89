// Package sweeper runs the daily retention pass: past appointments are marked
// completed, stale conversations are purged, and junk rows that slipped past
// the directive interpreter are cleaned up.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const (
	conversationRetention = 30 * 24 * time.Hour
	sentinelHorizon       = 90 * 24 * time.Hour
	startupDelay          = 2 * time.Minute
)

// placeholderNames match appointments booked before the interpreter learned
// to reject templated names. They are junk and get cancelled on sight.
var placeholderNames = []string{
	"name", "full name", "customer", "customer name", "your name",
	"client name", "test", "placeholder", "john doe", "jane doe",
}

type AppointmentStore interface {
	CompletePast(ctx context.Context, now time.Time) (int64, error)
	CancelByNames(ctx context.Context, names []string) (int64, error)
	CancelSentinelsAfter(ctx context.Context, cutoff time.Time) (int64, error)
}

type ConversationStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sweeper struct {
	appointments  AppointmentStore
	conversations ConversationStore
	logger        *slog.Logger
	now           func() time.Time
}

func New(appointments AppointmentStore, conversations ConversationStore, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		appointments:  appointments,
		conversations: conversations,
		logger:        logger,
		now:           time.Now,
	}
}

// Run sweeps shortly after startup, then once a day.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
		s.SweepOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every retention step. Steps are independent; one failing
// never stops the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now().UTC()

	if n, err := s.appointments.CompletePast(ctx, now); err != nil {
		s.logger.Error("sweep: complete past failed", "err", err)
	} else if n > 0 {
		s.logger.Info("sweep: marked past appointments completed", "count", n)
	}

	if n, err := s.conversations.PurgeOlderThan(ctx, now.Add(-conversationRetention)); err != nil {
		s.logger.Error("sweep: conversation purge failed", "err", err)
	} else if n > 0 {
		s.logger.Info("sweep: purged stale conversation turns", "count", n)
	}

	if n, err := s.appointments.CancelByNames(ctx, placeholderNames); err != nil {
		s.logger.Error("sweep: placeholder cancel failed", "err", err)
	} else if n > 0 {
		s.logger.Warn("sweep: cancelled placeholder-named appointments", "count", n)
	}

	// Calendar-import rows further out than the horizon are presumed
	// artifacts (recurring blockers, all-day markers), not real bookings.
	if n, err := s.appointments.CancelSentinelsAfter(ctx, now.Add(sentinelHorizon)); err != nil {
		s.logger.Error("sweep: sentinel cleanup failed", "err", err)
	} else if n > 0 {
		s.logger.Info("sweep: cancelled aged calendar-import rows", "count", n)
	}
}

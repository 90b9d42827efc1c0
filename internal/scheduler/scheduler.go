// Package scheduler fires slot deadlines and order-level expiry sweeps. It
// is restart-safe by construction: work is recomputed every poll from the
// persisted deadline_at column, never from in-process timers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/metrics"
)

// Store is the persistence surface the scheduler polls.
type Store interface {
	ListDueSlots(ctx context.Context, now time.Time, limit int) ([]db.DueSlot, error)
	ListSweepableOrders(ctx context.Context, limit int) ([]uuid.UUID, error)
	FlagOrderForReconciliation(ctx context.Context, orderID uuid.UUID) error
}

// Sessions is the slice of the negotiation manager the scheduler drives.
// Both operations are idempotent.
type Sessions interface {
	ExpireSlot(ctx context.Context, orderID uuid.UUID, sellerID string) error
	SweepOrder(ctx context.Context, orderID uuid.UUID) error
}

// Alerter receives scheduling failures for operator attention. May be nil.
type Alerter interface {
	SchedulingFailure(ctx context.Context, orderID uuid.UUID, err error)
}

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Scheduler polls for due slots and sweepable orders.
type Scheduler struct {
	store    Store
	sessions Sessions
	alerter  Alerter
	cfg      Config

	// now is swappable for tests.
	now func() time.Time
}

// New creates a scheduler. alerter may be nil.
func New(store Store, sessions Sessions, alerter Alerter, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		sessions: sessions,
		alerter:  alerter,
		cfg:      cfg.withDefaults(),
		now:      db.Now,
	}
}

// Run polls until the context is cancelled. An immediate first tick catches
// deadlines that passed while the process was down.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Deadline scheduler started")

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Deadline scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one poll: expire every due slot, then sweep orders whose slots
// are all terminal without an acceptance.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.SweepsRun.Inc()

	s.expireDueSlots(ctx)
	s.sweepOrders(ctx)
}

func (s *Scheduler) expireDueSlots(ctx context.Context) {
	due, err := s.store.ListDueSlots(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		metrics.SchedulingFailures.Inc()
		log.Error().Err(err).Msg("Failed to list due slots")
		return
	}

	for _, slot := range due {
		if err := s.sessions.ExpireSlot(ctx, slot.OrderID, slot.SellerID); err != nil {
			s.fail(ctx, slot.OrderID, fmt.Errorf("failed to expire slot for seller %s: %w", slot.SellerID, err))
			continue
		}
	}

	if len(due) > 0 {
		log.Debug().Int("count", len(due)).Msg("Processed due slots")
	}
}

func (s *Scheduler) sweepOrders(ctx context.Context) {
	orderIDs, err := s.store.ListSweepableOrders(ctx, s.cfg.BatchSize)
	if err != nil {
		metrics.SchedulingFailures.Inc()
		log.Error().Err(err).Msg("Failed to list sweepable orders")
		return
	}

	for _, orderID := range orderIDs {
		if err := s.sessions.SweepOrder(ctx, orderID); err != nil {
			s.fail(ctx, orderID, fmt.Errorf("failed to sweep order: %w", err))
		}
	}
}

// fail handles a scheduling failure: the order is flagged for manual
// reconciliation rather than left silently un-expirable, and operators are
// alerted.
func (s *Scheduler) fail(ctx context.Context, orderID uuid.UUID, cause error) {
	metrics.SchedulingFailures.Inc()
	log.Error().
		Err(cause).
		Str("order_id", orderID.String()).
		Msg("Scheduling failure, flagging order for reconciliation")

	if err := s.store.FlagOrderForReconciliation(ctx, orderID); err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Msg("Failed to flag order for reconciliation")
	}

	if s.alerter != nil {
		s.alerter.SchedulingFailure(ctx, orderID, cause)
	}
}

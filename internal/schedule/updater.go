// Package schedule keeps slot statuses in step with the clock: it expires unpaid
// bookings, closes elapsed slots and generates future ones.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	lockName  = "schedule-updater"
	batchSize = 200
)

type Sweeper interface {
	ExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ExpireBooking(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	CloseElapsedSlots(ctx context.Context, now time.Time) (completed, expired int64, err error)
}

// Locker is a lease shared by every updater instance.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

type Updater struct {
	sweeper   Sweeper
	generator *Generator
	locker    Locker
	logger    observability.Logger
	timeout   time.Duration
	owner     string
}

// NewUpdater builds an updater. generator and locker may be nil.
func NewUpdater(sweeper Sweeper, generator *Generator, locker Locker, timeout time.Duration, logger observability.Logger) *Updater {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Updater{
		sweeper:   sweeper,
		generator: generator,
		locker:    locker,
		logger:    logger,
		timeout:   timeout,
		owner:     uuid.NewString(),
	}
}

// Tick applies every time-driven transition due at now and returns how many it made.
// A booking that fails to expire is logged and retried on the next tick.
func (u *Updater) Tick(ctx context.Context, now time.Time) (int, error) {
	ctx, span := observability.Tracer().Start(ctx, "schedule.tick")
	defer span.End()

	expired := 0
	failed := make(map[uuid.UUID]bool)
	for {
		ids, err := u.sweeper.ExpiredPending(ctx, now, batchSize)
		if err != nil {
			return expired, err
		}
		progress := false
		for _, id := range ids {
			if failed[id] {
				continue
			}
			ok, err := u.sweeper.ExpireBooking(ctx, id, now)
			if err != nil {
				failed[id] = true
				u.logger.WithError(err).WithField("booking_id", id).Error("failed to expire booking")
				continue
			}
			if ok {
				expired++
				progress = true
			}
		}
		if len(ids) < batchSize || !progress {
			break
		}
	}
	observability.SweepTransitions.WithLabelValues("booking_expired").Add(float64(expired))

	completed, elapsed, err := u.sweeper.CloseElapsedSlots(ctx, now)
	if err != nil {
		return expired, err
	}
	observability.SweepTransitions.WithLabelValues("slot_completed").Add(float64(completed))
	observability.SweepTransitions.WithLabelValues("slot_expired").Add(float64(elapsed))

	total := expired + int(completed) + int(elapsed)
	span.SetAttributes(attribute.Int("transitions", total))
	return total, nil
}

// Run ticks every interval until ctx is done.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	u.logger.WithField("interval", interval.String()).Info("schedule updater started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	u.RunOnce(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("schedule updater stopped")
			return
		case now := <-ticker.C:
			u.RunOnce(ctx, now)
		}
	}
}

// RunOnce performs one guarded tick followed by a generation pass. It does nothing
// while another instance holds the lock.
func (u *Updater) RunOnce(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	if u.locker != nil {
		ok, err := u.locker.AcquireLock(ctx, lockName, u.owner, u.timeout)
		if err != nil {
			u.logger.WithError(err).Warn("schedule lock unavailable")
			return
		}
		if !ok {
			u.logger.Debug("schedule tick skipped, another instance holds the lock")
			return
		}
		defer func() {
			if err := u.locker.ReleaseLock(context.WithoutCancel(ctx), lockName, u.owner); err != nil {
				u.logger.WithError(err).Warn("failed to release schedule lock")
			}
		}()
	}

	n, err := u.Tick(ctx, now)
	if err != nil {
		u.logger.WithError(err).Error("schedule tick failed")
	} else if n > 0 {
		u.logger.WithField("transitions", n).Info("schedule tick applied transitions")
	}

	if u.generator != nil {
		created, err := u.generator.GenerateAll(ctx)
		if err != nil {
			u.logger.WithError(err).Error("slot generation failed")
		} else if created > 0 {
			u.logger.WithField("slots", created).Info("generated slots")
		}
	}
}

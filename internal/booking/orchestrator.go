// Package booking is the only writer of slot status. Every operation runs in one
// store transaction so slot, booking, order and discount changes commit together.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/store"
)

type Auditor interface {
	LogBooking(ctx context.Context, action string, b domain.Booking, o *domain.Order) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, fieldID uuid.UUID)
}

type Options struct {
	PendingGrace time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Location     *time.Location
	Now          func() time.Time
}

type Orchestrator struct {
	store  store.Store
	audit  Auditor
	cache  CacheInvalidator
	logger observability.Logger
	opts   Options
}

// New builds an orchestrator. audit and cache may be nil.
func New(s store.Store, audit Auditor, cache CacheInvalidator, logger observability.Logger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 20 * time.Millisecond
	}
	return &Orchestrator{store: s, audit: audit, cache: cache, logger: logger, opts: opts}
}

// runTx retries serialization failures with exponential backoff and reports
// ErrTransient once the retries are used up.
func (o *Orchestrator) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; ; attempt++ {
		err = o.store.WithTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) && !errors.Is(err, domain.ErrTransient) {
			return err
		}
		if attempt >= o.opts.MaxRetries {
			break
		}
		observability.TxRetries.Inc()
		backoff := o.opts.RetryBackoff << attempt
		select {
		case <-ctx.Done():
			return errors.Mark(ctx.Err(), domain.ErrTransient)
		case <-time.After(backoff):
		}
	}
	if errors.Is(err, domain.ErrTransient) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, "gave up after %d retries", o.opts.MaxRetries), domain.ErrTransient)
}

// afterCommit runs the side effects that must not roll back the booking.
func (o *Orchestrator) afterCommit(ctx context.Context, action string, b domain.Booking, ord *domain.Order) {
	if o.cache != nil {
		o.cache.Invalidate(ctx, b.FieldID)
	}
	if o.audit != nil {
		if err := o.audit.LogBooking(ctx, action, b, ord); err != nil {
			o.logger.WithError(err).WithField("booking_id", b.ID).Warn("audit write failed")
		}
	}
}

func (o *Orchestrator) reportFatal(err error, fields observability.Fields) {
	if errors.Is(err, domain.ErrFatal) {
		fields["operator_action_required"] = true
		o.logger.WithFields(fields).WithError(err).Error("data corruption detected")
	}
}

func (o *Orchestrator) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, domain.Order, error) {
	b, err := o.store.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, domain.Order{}, err
	}
	ord, err := o.store.GetOrderByBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, domain.Order{}, err
	}
	return b, ord, nil
}

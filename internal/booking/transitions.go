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

// PaymentResult is the asynchronous answer of the payment provider for one order.
type PaymentResult struct {
	BookingID  uuid.UUID
	PaymentRef string
	Success    bool
}

// ConfirmPayment settles a pending booking. A success books its slots; a failure
// releases them. Results already applied for the same payment reference are ignored
// and reported with duplicate set.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, pr PaymentResult) (b domain.Booking, duplicate bool, err error) {
	if pr.PaymentRef == "" {
		return domain.Booking{}, false, errors.Wrap(domain.ErrInvalidInput, "payment reference is required")
	}
	now := o.opts.Now()
	var ord domain.Order

	err = o.runTx(ctx, func(tx store.Tx) error {
		duplicate = false
		cur, err := tx.LockBooking(ctx, pr.BookingID)
		if err != nil {
			return err
		}
		ord, err = tx.GetOrderByBooking(ctx, cur.ID)
		if err != nil {
			return err
		}
		if ord.PaymentRef != pr.PaymentRef {
			return errors.Wrapf(domain.ErrInvalidInput, "payment %s does not belong to booking %s", pr.PaymentRef, cur.ID)
		}
		fresh, err := tx.MarkPaymentProcessed(ctx, pr.PaymentRef, cur.ID, now)
		if err != nil {
			return err
		}
		if !fresh {
			b, duplicate = cur, true
			return nil
		}
		if cur.Status != domain.BookingPending {
			return errors.Wrapf(domain.ErrInvalidTransition, "booking %s is %s", cur.ID, cur.Status)
		}

		if pr.Success {
			ord.Status = domain.OrderPaid
			b, err = o.settle(ctx, tx, cur, domain.SlotBooked, domain.BookingBooked, domain.PaymentPaid, ord.Status, domain.EventSlotBooked, now)
		} else {
			ord.Status = domain.OrderCancelled
			b, err = o.settle(ctx, tx, cur, domain.SlotAvailable, domain.BookingCancelled, domain.PaymentFailed, ord.Status, domain.EventPaymentFailed, now)
		}
		return err
	})
	if err != nil {
		o.reportFatal(err, observability.Fields{"booking_id": pr.BookingID})
		return domain.Booking{}, false, err
	}
	if !duplicate {
		action := "booking.paid"
		if !pr.Success {
			action = "booking.payment_failed"
		}
		o.afterCommit(ctx, action, b, &ord)
	}
	return b, duplicate, nil
}

// settle moves every PENDING slot of a pending booking to slotTo and updates the
// booking and its order in the same transaction.
func (o *Orchestrator) settle(ctx context.Context, tx store.Tx, b domain.Booking, slotTo domain.SlotStatus,
	to domain.BookingStatus, payment domain.PaymentStatus, orderTo domain.OrderStatus, event string, now time.Time,
) (domain.Booking, error) {
	moved, err := tx.MoveBookingSlots(ctx, b.ID, domain.SlotPending, slotTo)
	if err != nil {
		return domain.Booking{}, err
	}
	if moved != int64(len(b.SlotIDs)) {
		return domain.Booking{}, errors.Wrapf(domain.ErrFatal, "booking %s holds %d pending slots, expected %d", b.ID, moved, len(b.SlotIDs))
	}
	n, err := tx.UpdateBookingStatus(ctx, b.ID, domain.BookingPending, to, payment, now)
	if err != nil {
		return domain.Booking{}, err
	}
	if n == 0 {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "booking %s is no longer pending", b.ID)
	}
	if err := tx.UpdateOrderStatus(ctx, b.ID, orderTo); err != nil {
		return domain.Booking{}, err
	}
	b.Status, b.PaymentStatus, b.UpdatedAt = to, payment, now
	if err := tx.InsertOutbox(ctx, domain.NewBookingEvent(event, b, now)); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

// CancelBooking is the compensating operation after a booking committed. A pending
// booking releases its slots. A booked one cancels them and puts fresh AVAILABLE
// slots on the calendar in their place.
func (o *Orchestrator) CancelBooking(ctx context.Context, id uuid.UUID, by domain.Requester) (domain.Booking, error) {
	now := o.opts.Now()
	var b domain.Booking
	err := o.runTx(ctx, func(tx store.Tx) error {
		cur, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		if !cur.OwnedBy(by) {
			return errors.Wrapf(domain.ErrForbidden, "booking %s belongs to another user", id)
		}

		switch cur.Status {
		case domain.BookingPending:
			b, err = o.settle(ctx, tx, cur, domain.SlotAvailable, domain.BookingCancelled, cur.PaymentStatus, domain.OrderCancelled, domain.EventBookingCancelled, now)
			return err
		case domain.BookingBooked:
			b, err = o.cancelBooked(ctx, tx, cur, now)
			return err
		default:
			return errors.Wrapf(domain.ErrInvalidTransition, "booking %s is %s", id, cur.Status)
		}
	})
	if err != nil {
		o.reportFatal(err, observability.Fields{"booking_id": id})
		return domain.Booking{}, err
	}
	o.afterCommit(ctx, "booking.cancelled", b, nil)
	return b, nil
}

func (o *Orchestrator) cancelBooked(ctx context.Context, tx store.Tx, b domain.Booking, now time.Time) (domain.Booking, error) {
	for _, r := range b.Ranges {
		if !domain.At(b.Date, r.Start, o.opts.Location).After(now) {
			return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "booking %s has already started", b.ID)
		}
	}
	slots, err := tx.ListSlots(ctx, b.FieldID, b.Date, b.Date)
	if err != nil {
		return domain.Booking{}, err
	}
	var replacements []domain.Slot
	for _, s := range slots {
		if s.BookingID == nil || *s.BookingID != b.ID || s.Status != domain.SlotBooked {
			continue
		}
		replacements = append(replacements, domain.Slot{
			ID:      uuid.New(),
			FieldID: s.FieldID,
			Date:    s.Date,
			Range:   s.Range,
			Status:  domain.SlotAvailable,
		})
	}
	moved, err := tx.MoveBookingSlots(ctx, b.ID, domain.SlotBooked, domain.SlotCancelled)
	if err != nil {
		return domain.Booking{}, err
	}
	if moved != int64(len(b.SlotIDs)) {
		return domain.Booking{}, errors.Wrapf(domain.ErrFatal, "booking %s holds %d booked slots, expected %d", b.ID, moved, len(b.SlotIDs))
	}
	if _, err := tx.InsertSlots(ctx, replacements); err != nil {
		return domain.Booking{}, err
	}
	n, err := tx.UpdateBookingStatus(ctx, b.ID, domain.BookingBooked, domain.BookingCancelled, b.PaymentStatus, now)
	if err != nil {
		return domain.Booking{}, err
	}
	if n == 0 {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "booking %s is no longer booked", b.ID)
	}
	if err := tx.UpdateOrderStatus(ctx, b.ID, domain.OrderCancelled); err != nil {
		return domain.Booking{}, err
	}
	b.Status, b.UpdatedAt = domain.BookingCancelled, now
	if err := tx.InsertOutbox(ctx, domain.NewBookingEvent(domain.EventBookingCancelled, b, now)); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

// ExpiredPending lists pending bookings whose grace period ended before now.
func (o *Orchestrator) ExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := o.runTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListExpiredPending(ctx, now.Add(-o.opts.PendingGrace), limit)
		return err
	})
	return ids, err
}

// ExpireBooking releases the slots of an unpaid booking whose grace period ended and
// reports whether anything changed.
func (o *Orchestrator) ExpireBooking(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var b domain.Booking
	expired := false
	err := o.runTx(ctx, func(tx store.Tx) error {
		expired = false
		cur, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.BookingPending || !now.After(cur.ExpiresAt(o.opts.PendingGrace)) {
			return nil
		}
		b, err = o.settle(ctx, tx, cur, domain.SlotAvailable, domain.BookingExpired, cur.PaymentStatus, domain.OrderExpired, domain.EventBookingExpired, now)
		expired = err == nil
		return err
	})
	if err != nil {
		o.reportFatal(err, observability.Fields{"booking_id": id})
		return false, err
	}
	if expired {
		o.afterCommit(ctx, "booking.expired", b, nil)
	}
	return expired, nil
}

// CloseElapsedSlots marks BOOKED slots that ended as COMPLETED and AVAILABLE slots
// that ended unbooked as EXPIRED.
func (o *Orchestrator) CloseElapsedSlots(ctx context.Context, now time.Time) (completed, expired int64, err error) {
	today, minute := domain.Clock(now, o.opts.Location)
	var fields []domain.Field
	err = o.runTx(ctx, func(tx store.Tx) error {
		var err error
		completed, err = tx.CloseElapsedSlots(ctx, today, minute, domain.SlotBooked, domain.SlotCompleted)
		if err != nil {
			return err
		}
		expired, err = tx.CloseElapsedSlots(ctx, today, minute, domain.SlotAvailable, domain.SlotExpired)
		if err != nil {
			return err
		}
		if completed+expired > 0 {
			fields, err = tx.ListBookableFields(ctx)
		}
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	if o.cache != nil {
		for _, f := range fields {
			o.cache.Invalidate(ctx, f.ID)
		}
	}
	return completed, expired, nil
}

package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ServiceLine struct {
	ServiceID uuid.UUID
	Quantity  int
}

type Request struct {
	FieldID        uuid.UUID
	Date           time.Time
	Ranges         []domain.TimeRange
	Requester      domain.Requester
	DiscountID     *uuid.UUID
	Services       []ServiceLine
	Notes          string
	IdempotencyKey string
}

type Result struct {
	Booking domain.Booking
	Order   domain.Order
	// Replayed is set when the idempotency key matched an earlier booking.
	Replayed bool
}

func (r Request) validate() error {
	if err := r.Requester.Validate(); err != nil {
		return err
	}
	if len(r.Ranges) == 0 {
		return errors.Wrap(domain.ErrInvalidInput, "at least one time range is required")
	}
	for _, tr := range r.Ranges {
		if err := tr.Validate(); err != nil {
			return err
		}
	}
	for _, s := range r.Services {
		if s.Quantity <= 0 {
			return errors.Wrapf(domain.ErrInvalidInput, "service %s: quantity must be positive", s.ServiceID)
		}
	}
	return nil
}

// CreateBooking checks availability, prices the ranges, applies the discount and
// holds the slots as PENDING for a new booking and its order, all in one transaction.
func (o *Orchestrator) CreateBooking(ctx context.Context, req Request) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("field_id", req.FieldID.String()),
		attribute.String("date", domain.FormatDate(req.Date)),
	)

	res, err := o.createBooking(ctx, req)
	switch {
	case err == nil && res.Replayed:
		observability.BookingsTotal.WithLabelValues("replayed").Inc()
	case err == nil:
		observability.BookingsTotal.WithLabelValues("created").Inc()
		o.afterCommit(ctx, "booking.created", res.Booking, &res.Order)
	default:
		observability.BookingsTotal.WithLabelValues(resultLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.reportFatal(err, observability.Fields{"field_id": req.FieldID, "date": domain.FormatDate(req.Date)})
	}
	return res, err
}

func (o *Orchestrator) createBooking(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	now := o.opts.Now()
	date := domain.DateOf(req.Date)
	for _, tr := range req.Ranges {
		if !domain.At(date, tr.Start, o.opts.Location).After(now) {
			return Result{}, errors.Wrapf(domain.ErrInvalidInput, "%s %s has already started", domain.FormatDate(date), tr)
		}
	}

	var res Result
	err := o.runTx(ctx, func(tx store.Tx) error {
		res = Result{}

		if req.IdempotencyKey != "" {
			prev, err := tx.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				if !replays(prev, req, date) {
					return errors.Wrap(domain.ErrInvalidInput, "idempotency key was used for another booking")
				}
				ord, err := tx.GetOrderByBooking(ctx, prev.ID)
				if err != nil {
					return err
				}
				res = Result{Booking: prev, Order: ord, Replayed: true}
				return nil
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}

		field, err := tx.GetField(ctx, req.FieldID)
		if err != nil {
			return err
		}
		if !field.BookingEnabled {
			return errors.Wrapf(domain.ErrInvalidInput, "field %s does not accept bookings", field.ID)
		}

		slots, err := tx.LockSlots(ctx, field.ID, date)
		if err != nil {
			return err
		}
		avail, err := domain.CheckAvailability(slots, req.Ranges)
		if err != nil {
			return err
		}
		if !avail.Available {
			return avail.Err()
		}

		rules, err := tx.ListPricing(ctx, field.ID)
		if err != nil {
			return err
		}
		price, err := domain.Quote(rules, req.Ranges)
		if err != nil {
			return err
		}

		items, err := orderItems(ctx, tx, field.FacilityID, req.Services)
		if err != nil {
			return err
		}

		var discount *domain.Discount
		if req.DiscountID != nil {
			d, err := tx.LockDiscount(ctx, *req.DiscountID)
			if err != nil {
				return err
			}
			if err := d.Validate(field.FacilityID, now); err != nil {
				return err
			}
			discount = &d
		}

		b := domain.NewBooking(field.ID, req.Requester, date, req.Ranges, avail.Slots, price, req.Notes, now)
		b.IdempotencyKey = req.IdempotencyKey
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		claimed, err := tx.ClaimSlots(ctx, b.ID, b.SlotIDs)
		if err != nil {
			return err
		}
		if claimed != int64(len(b.SlotIDs)) {
			return lostRace(avail.Slots)
		}

		ord := domain.NewOrder(b, price, items, discount)
		if err := tx.InsertOrder(ctx, ord); err != nil {
			return err
		}
		if discount != nil {
			n, err := tx.DecrementDiscount(ctx, discount.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return errors.Wrapf(domain.ErrInvalidDiscount, "discount %s is exhausted", discount.Code)
			}
		}
		if err := tx.InsertOutbox(ctx, domain.NewBookingEvent(domain.EventBookingPending, b, now)); err != nil {
			return err
		}

		res = Result{Booking: b, Order: ord}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// orderItems prices the requested service lines, merging repeated services.
func orderItems(ctx context.Context, tx store.Tx, facilityID uuid.UUID, lines []ServiceLine) ([]domain.OrderItem, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	qty := make(map[uuid.UUID]int)
	var ids []uuid.UUID
	for _, l := range lines {
		if _, ok := qty[l.ServiceID]; !ok {
			ids = append(ids, l.ServiceID)
		}
		qty[l.ServiceID] += l.Quantity
	}
	services, err := tx.ListServices(ctx, facilityID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.FacilityService, len(services))
	for _, s := range services {
		byID[s.ID] = s
	}
	items := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		svc, ok := byID[id]
		if !ok {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "service %s is not offered by this facility", id)
		}
		items = append(items, domain.OrderItem{ServiceID: id, Quantity: qty[id], UnitPrice: svc.UnitPrice})
	}
	return items, nil
}

// lostRace reports the slots a concurrent writer claimed between the read and the
// conditional update.
func lostRace(slots []domain.Slot) error {
	conflicts := make([]domain.Conflict, len(slots))
	for i, s := range slots {
		ref := s.Ref()
		conflicts[i] = domain.Conflict{Range: s.Range, Slot: &ref, Reason: domain.ReasonUnavailable}
	}
	return &domain.ConflictError{Conflicts: conflicts}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidDiscount):
		return "invalid_discount"
	case errors.Is(err, domain.ErrNoPricingConfigured):
		return "no_pricing"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	case errors.Is(err, domain.ErrFatal):
		return "fatal"
	default:
		return "error"
	}
}

// replays reports whether req asks for the booking prev was created from.
func replays(prev domain.Booking, req Request, date time.Time) bool {
	if prev.FieldID != req.FieldID || !prev.Date.Equal(date) {
		return false
	}
	a, b := prev.Requester.UserID, req.Requester.UserID
	if (a == nil) != (b == nil) || (a != nil && *a != *b) {
		return false
	}
	ranges := append([]domain.TimeRange(nil), req.Ranges...)
	domain.SortRanges(ranges)
	if len(ranges) != len(prev.Ranges) {
		return false
	}
	for i := range ranges {
		if ranges[i] != prev.Ranges[i] {
			return false
		}
	}
	return true
}

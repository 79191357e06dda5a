package memory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
)

type tx struct {
	st *state
}

func (t *tx) GetField(ctx context.Context, id uuid.UUID) (domain.Field, error) {
	return t.st.getField(id)
}

func (t *tx) ListBookableFields(ctx context.Context) ([]domain.Field, error) {
	return t.st.listBookableFields(), nil
}

func (t *tx) ListPricing(ctx context.Context, fieldID uuid.UUID) ([]domain.FieldPricing, error) {
	return t.st.listPricing(fieldID), nil
}

func (t *tx) ListSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error) {
	return t.st.listSlots(fieldID, from, to), nil
}

func (t *tx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.st.getBooking(id)
}

func (t *tx) GetBookingByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error) {
	return t.st.getBookingByKey(key)
}

func (t *tx) GetOrderByBooking(ctx context.Context, bookingID uuid.UUID) (domain.Order, error) {
	return t.st.getOrder(bookingID)
}

func (t *tx) LockSlots(ctx context.Context, fieldID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	return t.st.listSlots(fieldID, date, date), nil
}

func (t *tx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.st.getBooking(id)
}

func (t *tx) LockDiscount(ctx context.Context, id uuid.UUID) (domain.Discount, error) {
	d, ok := t.st.discounts[id]
	if !ok {
		return domain.Discount{}, errors.Wrapf(domain.ErrNotFound, "discount %s", id)
	}
	return d, nil
}

func (t *tx) ListServices(ctx context.Context, facilityID uuid.UUID, ids []uuid.UUID) ([]domain.FacilityService, error) {
	var out []domain.FacilityService
	for _, id := range ids {
		svc, ok := t.st.services[id]
		if ok && svc.FacilityID == facilityID {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (t *tx) ClaimSlots(ctx context.Context, bookingID uuid.UUID, slotIDs []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range slotIDs {
		sl, ok := t.st.slots[id]
		if !ok || sl.Status != domain.SlotAvailable {
			continue
		}
		bid := bookingID
		sl.Status = domain.SlotPending
		sl.BookingID = &bid
		t.st.slots[id] = sl
		n++
	}
	return n, nil
}

func (t *tx) MoveBookingSlots(ctx context.Context, bookingID uuid.UUID, from, to domain.SlotStatus) (int64, error) {
	var n int64
	for id, sl := range t.st.slots {
		if sl.BookingID == nil || *sl.BookingID != bookingID || sl.Status != from {
			continue
		}
		sl.Status = to
		if to == domain.SlotAvailable {
			sl.BookingID = nil
		}
		t.st.slots[id] = sl
		n++
	}
	return n, nil
}

func (t *tx) InsertSlots(ctx context.Context, slots []domain.Slot) (int64, error) {
	taken := make(map[string]bool)
	for _, sl := range t.st.slots {
		if sl.Status.Occupies() {
			taken[slotKey(sl)] = true
		}
	}
	var n int64
	for _, sl := range slots {
		if taken[slotKey(sl)] {
			continue
		}
		taken[slotKey(sl)] = true
		t.st.slots[sl.ID] = sl
		n++
	}
	return n, nil
}

func slotKey(s domain.Slot) string {
	return s.FieldID.String() + "/" + domain.FormatDate(s.Date) + "/" + s.Range.Start.String()
}

func (t *tx) CloseElapsedSlots(ctx context.Context, today time.Time, now domain.TimeOfDay, from, to domain.SlotStatus) (int64, error) {
	var n int64
	for id, sl := range t.st.slots {
		if sl.Status != from {
			continue
		}
		if sl.Date.Before(today) || (sl.Date.Equal(today) && sl.Range.End <= now) {
			sl.Status = to
			t.st.slots[id] = sl
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertBooking(ctx context.Context, b domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return errors.Newf("booking %s already exists", b.ID)
	}
	if b.IdempotencyKey != "" {
		if _, ok := t.st.idemKeys[b.IdempotencyKey]; ok {
			return errors.Newf("idempotency key %q already used", b.IdempotencyKey)
		}
		t.st.idemKeys[b.IdempotencyKey] = b.ID
	}
	t.st.bookings[b.ID] = b
	return nil
}

func (t *tx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, payment domain.PaymentStatus, at time.Time) (int64, error) {
	b, ok := t.st.bookings[id]
	if !ok || b.Status != from {
		return 0, nil
	}
	b.Status = to
	b.PaymentStatus = payment
	b.UpdatedAt = at
	t.st.bookings[id] = b
	return 1, nil
}

func (t *tx) ListExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	var pending []domain.Booking
	for _, b := range t.st.bookings {
		if b.Status == domain.BookingPending && b.CreatedAt.Before(createdBefore) {
			pending = append(pending, b)
		}
	}
	sortBookingsByCreation(pending)
	var ids []uuid.UUID
	for _, b := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (t *tx) InsertOrder(ctx context.Context, o domain.Order) error {
	if _, ok := t.st.orders[o.BookingID]; ok {
		return errors.Newf("booking %s already has an order", o.BookingID)
	}
	t.st.orders[o.BookingID] = o
	return nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, bookingID uuid.UUID, to domain.OrderStatus) error {
	o, ok := t.st.orders[bookingID]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "order of booking %s", bookingID)
	}
	o.Status = to
	t.st.orders[bookingID] = o
	return nil
}

func (t *tx) DecrementDiscount(ctx context.Context, id uuid.UUID) (int64, error) {
	d, ok := t.st.discounts[id]
	if !ok || d.Remaining <= 0 {
		return 0, nil
	}
	d.Remaining--
	t.st.discounts[id] = d
	return 1, nil
}

func (t *tx) MarkPaymentProcessed(ctx context.Context, ref string, bookingID uuid.UUID, at time.Time) (bool, error) {
	if _, ok := t.st.payments[ref]; ok {
		return false, nil
	}
	t.st.payments[ref] = bookingID
	return true, nil
}

func (t *tx) InsertOutbox(ctx context.Context, e domain.OutboxEvent) error {
	for _, row := range t.st.outbox {
		if row.event.DedupeKey != "" && row.event.DedupeKey == e.DedupeKey {
			return nil
		}
	}
	t.st.outbox = append(t.st.outbox, outboxRow{event: e})
	return nil
}

package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/field-booking/internal/domain"
)

type reader struct {
	q querier
}

const slotColumns = `id, field_id, slot_date, start_minute, end_minute, status, booking_id`

func scanSlot(row pgx.CollectableRow) (domain.Slot, error) {
	var s domain.Slot
	var start, end int
	err := row.Scan(&s.ID, &s.FieldID, &s.Date, &start, &end, &s.Status, &s.BookingID)
	s.Range = domain.TimeRange{Start: domain.TimeOfDay(start), End: domain.TimeOfDay(end)}
	s.Date = domain.DateOf(s.Date)
	return s, err
}

func (r reader) GetField(ctx context.Context, id uuid.UUID) (domain.Field, error) {
	var f domain.Field
	err := r.q.QueryRow(ctx, `
		SELECT id, facility_id, category, name, booking_enabled
		FROM fields WHERE id = $1
	`, id).Scan(&f.ID, &f.FacilityID, &f.Category, &f.Name, &f.BookingEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Field{}, errors.Wrapf(domain.ErrNotFound, "field %s", id)
	}
	return f, err
}

func (r reader) ListBookableFields(ctx context.Context) ([]domain.Field, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, facility_id, category, name, booking_enabled
		FROM fields WHERE booking_enabled ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Field, error) {
		var f domain.Field
		err := row.Scan(&f.ID, &f.FacilityID, &f.Category, &f.Name, &f.BookingEnabled)
		return f, err
	})
}

func (r reader) ListPricing(ctx context.Context, fieldID uuid.UUID) ([]domain.FieldPricing, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, field_id, start_minute, end_minute, price_per_hour
		FROM field_pricing WHERE field_id = $1 ORDER BY start_minute
	`, fieldID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FieldPricing, error) {
		var p domain.FieldPricing
		var start, end int
		err := row.Scan(&p.ID, &p.FieldID, &start, &end, &p.PricePerHour)
		p.Range = domain.TimeRange{Start: domain.TimeOfDay(start), End: domain.TimeOfDay(end)}
		return p, err
	})
}

func (r reader) ListSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM field_slots
		WHERE field_id = $1 AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, start_minute, status = 'CANCELLED' DESC
	`, fieldID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSlot)
}

const bookingColumns = `id, field_id, user_id, COALESCE(guest_name, ''), COALESCE(guest_phone, ''),
	booking_date, ranges, status, payment_status, total_price, notes,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func (r reader) getBooking(ctx context.Context, where string, arg any) (domain.Booking, error) {
	var b domain.Booking
	var ranges []byte
	err := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE `+where, arg).Scan(
		&b.ID, &b.FieldID, &b.Requester.UserID, &b.Requester.GuestName, &b.Requester.GuestPhone,
		&b.Date, &ranges, &b.Status, &b.PaymentStatus, &b.TotalPrice, &b.Notes,
		&b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %v", arg)
	}
	if err != nil {
		return domain.Booking{}, err
	}
	b.Date = domain.DateOf(b.Date)
	if err := json.Unmarshal(ranges, &b.Ranges); err != nil {
		return domain.Booking{}, errors.Wrapf(domain.ErrFatal, "booking %s ranges: %v", b.ID, err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT slot_id FROM booking_slots WHERE booking_id = $1 ORDER BY position
	`, b.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	b.SlotIDs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	return b, err
}

func (r reader) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return r.getBooking(ctx, "id = $1", id)
}

func (r reader) GetBookingByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error) {
	return r.getBooking(ctx, "idempotency_key = $1", key)
}

func (r reader) GetOrderByBooking(ctx context.Context, bookingID uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := r.q.QueryRow(ctx, `
		SELECT id, booking_id, discount_id, field_price, services_price, discount_amount,
			total, status, payment_ref, created_at
		FROM orders WHERE booking_id = $1
	`, bookingID).Scan(&o.ID, &o.BookingID, &o.DiscountID, &o.FieldPrice, &o.ServicesPrice,
		&o.DiscountAmount, &o.Total, &o.Status, &o.PaymentRef, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, errors.Wrapf(domain.ErrNotFound, "order of booking %s", bookingID)
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.q.Query(ctx, `
		SELECT service_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY service_id
	`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var it domain.OrderItem
		err := row.Scan(&it.ServiceID, &it.Quantity, &it.UnitPrice)
		return it, err
	})
	return o, err
}

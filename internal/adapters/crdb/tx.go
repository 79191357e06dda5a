package crdb

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/field-booking/internal/domain"
)

func (t *txRepo) LockSlots(ctx context.Context, fieldID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM field_slots
		WHERE field_id = $1 AND slot_date = $2
		ORDER BY start_minute
		FOR UPDATE
	`, fieldID, date)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSlot)
}

func (t *txRepo) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if _, err := t.tx.Exec(ctx, `SELECT 1 FROM bookings WHERE id = $1 FOR UPDATE`, id); err != nil {
		return domain.Booking{}, err
	}
	return t.GetBooking(ctx, id)
}

func (t *txRepo) LockDiscount(ctx context.Context, id uuid.UUID) (domain.Discount, error) {
	var d domain.Discount
	err := t.tx.QueryRow(ctx, `
		SELECT id, facility_id, code, percentage, valid_from, valid_to, remaining
		FROM discounts WHERE id = $1
		FOR UPDATE
	`, id).Scan(&d.ID, &d.FacilityID, &d.Code, &d.Percentage, &d.ValidFrom, &d.ValidTo, &d.Remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Discount{}, errors.Wrapf(domain.ErrNotFound, "discount %s", id)
	}
	return d, err
}

func (t *txRepo) ListServices(ctx context.Context, facilityID uuid.UUID, ids []uuid.UUID) ([]domain.FacilityService, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, facility_id, name, unit_price
		FROM facility_services WHERE facility_id = $1 AND id = ANY($2::UUID[])
	`, facilityID, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FacilityService, error) {
		var s domain.FacilityService
		err := row.Scan(&s.ID, &s.FacilityID, &s.Name, &s.UnitPrice)
		return s, err
	})
}

func (t *txRepo) ClaimSlots(ctx context.Context, bookingID uuid.UUID, slotIDs []uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE field_slots SET status = 'PENDING', booking_id = $1
		WHERE id = ANY($2::UUID[]) AND status = 'AVAILABLE'
	`, bookingID, uuidStrings(slotIDs))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) MoveBookingSlots(ctx context.Context, bookingID uuid.UUID, from, to domain.SlotStatus) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE field_slots
		SET status = $3, booking_id = CASE WHEN $3 = 'AVAILABLE' THEN NULL ELSE booking_id END
		WHERE booking_id = $1 AND status = $2
	`, bookingID, string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) InsertSlots(ctx context.Context, slots []domain.Slot) (int64, error) {
	var n int64
	for _, s := range slots {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO field_slots (id, field_id, slot_date, start_minute, end_minute, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (field_id, slot_date, start_minute) WHERE status <> 'CANCELLED' DO NOTHING
		`, s.ID, s.FieldID, s.Date, int(s.Range.Start), int(s.Range.End), string(s.Status))
		if err != nil {
			return n, err
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (t *txRepo) CloseElapsedSlots(ctx context.Context, today time.Time, now domain.TimeOfDay, from, to domain.SlotStatus) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE field_slots SET status = $4
		WHERE status = $3 AND (slot_date < $1 OR (slot_date = $1 AND end_minute <= $2))
	`, today, int(now), string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) InsertBooking(ctx context.Context, b domain.Booking) error {
	ranges, err := json.Marshal(b.Ranges)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO bookings (id, field_id, user_id, guest_name, guest_phone, booking_date, ranges,
			status, payment_status, total_price, notes, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, b.ID, b.FieldID, b.Requester.UserID, nullIfEmpty(b.Requester.GuestName), nullIfEmpty(b.Requester.GuestPhone),
		b.Date, string(ranges), string(b.Status), string(b.PaymentStatus), b.TotalPrice, b.Notes,
		nullIfEmpty(b.IdempotencyKey), b.CreatedAt, b.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode && strings.Contains(pgErr.ConstraintName, "idempotency_key") {
		// a concurrent request with the same key committed first; retrying replays it
		return errors.Mark(err, domain.ErrSerializationFailure)
	}
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, id := range b.SlotIDs {
		batch.Queue(`INSERT INTO booking_slots (booking_id, slot_id, position) VALUES ($1, $2, $3)`, b.ID, id, i)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, payment domain.PaymentStatus, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $3, payment_status = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), string(payment), at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) ListExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}

func (t *txRepo) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, booking_id, discount_id, field_price, services_price, discount_amount,
			total, status, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.BookingID, o.DiscountID, o.FieldPrice, o.ServicesPrice, o.DiscountAmount,
		o.Total, string(o.Status), o.PaymentRef, o.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO order_items (order_id, service_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, o.ID, it.ServiceID, it.Quantity, it.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateOrderStatus(ctx context.Context, bookingID uuid.UUID, to domain.OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2 WHERE booking_id = $1
	`, bookingID, string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "order of booking %s", bookingID)
	}
	return nil
}

func (t *txRepo) DecrementDiscount(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE discounts SET remaining = remaining - 1 WHERE id = $1 AND remaining > 0
	`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) MarkPaymentProcessed(ctx context.Context, ref string, bookingID uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_payments (payment_ref, booking_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_ref) DO NOTHING
	`, ref, bookingID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

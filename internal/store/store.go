// Package store declares the persistence ports the booking core runs against.
// Every slot status transition goes through a Tx obtained from Store.WithTx.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
)

// Reader is the read side shared by the store and its transactions. Missing rows
// are reported as domain.ErrNotFound.
type Reader interface {
	GetField(ctx context.Context, id uuid.UUID) (domain.Field, error)
	ListBookableFields(ctx context.Context) ([]domain.Field, error)
	ListPricing(ctx context.Context, fieldID uuid.UUID) ([]domain.FieldPricing, error)
	// ListSlots returns the slots of the field with from <= date <= to ordered by date and start.
	ListSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error)
	GetOrderByBooking(ctx context.Context, bookingID uuid.UUID) (domain.Order, error)
}

// Tx is one serializable unit of work. Conditional writes return the number of rows
// they changed so callers can detect that a concurrent writer got there first.
type Tx interface {
	Reader

	// LockSlots reads every slot of the field on date and holds them until commit.
	LockSlots(ctx context.Context, fieldID uuid.UUID, date time.Time) ([]domain.Slot, error)
	LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	LockDiscount(ctx context.Context, id uuid.UUID) (domain.Discount, error)
	ListServices(ctx context.Context, facilityID uuid.UUID, ids []uuid.UUID) ([]domain.FacilityService, error)

	// ClaimSlots moves AVAILABLE slots to PENDING for the booking.
	ClaimSlots(ctx context.Context, bookingID uuid.UUID, slotIDs []uuid.UUID) (int64, error)
	// MoveBookingSlots moves the booking's slots in status from to status to. Slots
	// returned to AVAILABLE lose their booking reference.
	MoveBookingSlots(ctx context.Context, bookingID uuid.UUID, from, to domain.SlotStatus) (int64, error)
	// InsertSlots skips slots clashing with an existing non-cancelled slot start.
	InsertSlots(ctx context.Context, slots []domain.Slot) (int64, error)
	// CloseElapsedSlots marks slots ending at or before minute now of today (and every
	// earlier day) in status from as to.
	CloseElapsedSlots(ctx context.Context, today time.Time, now domain.TimeOfDay, from, to domain.SlotStatus) (int64, error)

	InsertBooking(ctx context.Context, b domain.Booking) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, payment domain.PaymentStatus, at time.Time) (int64, error)
	ListExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)

	InsertOrder(ctx context.Context, o domain.Order) error
	UpdateOrderStatus(ctx context.Context, bookingID uuid.UUID, to domain.OrderStatus) error

	// DecrementDiscount never takes remaining below zero.
	DecrementDiscount(ctx context.Context, id uuid.UUID) (int64, error)

	// MarkPaymentProcessed records ref and reports false when it was already recorded.
	MarkPaymentProcessed(ctx context.Context, ref string, bookingID uuid.UUID, at time.Time) (bool, error)

	InsertOutbox(ctx context.Context, e domain.OutboxEvent) error
}

type Store interface {
	Reader
	// WithTx runs fn in a serializable transaction, committing when fn returns nil.
	// Serialization conflicts surface as domain.ErrSerializationFailure.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

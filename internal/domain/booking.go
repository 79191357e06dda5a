package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (r Requester) Validate() error {
	if r.UserID != nil {
		return nil
	}
	if strings.TrimSpace(r.GuestName) == "" || strings.TrimSpace(r.GuestPhone) == "" {
		return errors.Wrap(ErrInvalidInput, "guest bookings need a name and a phone number")
	}
	return nil
}

// NewBooking builds a pending booking holding the given slots.
func NewBooking(fieldID uuid.UUID, req Requester, date time.Time, ranges []TimeRange, slots []Slot, price decimal.Decimal, notes string, now time.Time) Booking {
	ids := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	sorted := append([]TimeRange(nil), ranges...)
	SortRanges(sorted)
	return Booking{
		ID:            uuid.New(),
		FieldID:       fieldID,
		Requester:     req,
		Date:          DateOf(date),
		Ranges:        sorted,
		SlotIDs:       ids,
		Status:        BookingPending,
		PaymentStatus: PaymentUnpaid,
		TotalPrice:    price,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ExpiresAt is the instant after which an unpaid pending booking is released.
func (b Booking) ExpiresAt(grace time.Duration) time.Time {
	return b.CreatedAt.Add(grace)
}

// OwnedBy reports whether r may act on the booking.
func (b Booking) OwnedBy(r Requester) bool {
	if b.Requester.UserID == nil {
		return true
	}
	return r.UserID != nil && *r.UserID == *b.Requester.UserID
}

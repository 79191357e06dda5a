package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys of the notification events written to the outbox.
const (
	EventBookingPending   = "booking.pending"
	EventSlotBooked       = "slot.booked"
	EventBookingExpired   = "booking.expired"
	EventBookingCancelled = "booking.cancelled"
	EventPaymentFailed    = "booking.payment_failed"
)

type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	DedupeKey     string
	CreatedAt     time.Time
}

type BookingEventPayload struct {
	BookingID uuid.UUID     `json:"booking_id"`
	FieldID   uuid.UUID     `json:"field_id"`
	Date      string        `json:"date"`
	Ranges    []TimeRange   `json:"ranges"`
	SlotIDs   []uuid.UUID   `json:"slot_ids"`
	Status    BookingStatus `json:"status"`
	Payment   PaymentStatus `json:"payment_status"`
	Total     string        `json:"total"`
	At        time.Time     `json:"at"`
}

func NewBookingEvent(eventType string, b Booking, at time.Time) OutboxEvent {
	payload, _ := json.Marshal(BookingEventPayload{
		BookingID: b.ID,
		FieldID:   b.FieldID,
		Date:      FormatDate(b.Date),
		Ranges:    b.Ranges,
		SlotIDs:   b.SlotIDs,
		Status:    b.Status,
		Payment:   b.PaymentStatus,
		Total:     b.TotalPrice.String(),
		At:        at,
	})
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     eventType + ":" + b.ID.String(),
		CreatedAt:     at,
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotPending   SlotStatus = "PENDING"
	SlotBooked    SlotStatus = "BOOKED"
	SlotCancelled SlotStatus = "CANCELLED"
	SlotExpired   SlotStatus = "EXPIRED"
	SlotCompleted SlotStatus = "COMPLETED"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingBooked    BookingStatus = "BOOKED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
	PaymentFailed PaymentStatus = "FAILED"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

type Field struct {
	ID             uuid.UUID
	FacilityID     uuid.UUID
	Category       string
	Name           string
	BookingEnabled bool
}

// FieldPricing is an hourly rate applying to [Range.Start, Range.End) on every day.
type FieldPricing struct {
	ID           uuid.UUID
	FieldID      uuid.UUID
	Range        TimeRange
	PricePerHour decimal.Decimal
}

// Slot is one persisted FieldBookingSchedule row. Date is midnight UTC of the calendar day.
type Slot struct {
	ID        uuid.UUID
	FieldID   uuid.UUID
	Date      time.Time
	Range     TimeRange
	Status    SlotStatus
	BookingID *uuid.UUID
}

type SlotRef struct {
	ID    uuid.UUID `json:"slot_id"`
	Range TimeRange `json:"range"`
}

func (s Slot) Ref() SlotRef {
	return SlotRef{ID: s.ID, Range: s.Range}
}

// Requester is either a signed-in user or a guest identified by name and phone.
type Requester struct {
	UserID     *uuid.UUID
	GuestName  string
	GuestPhone string
}

func (r Requester) IsGuest() bool {
	return r.UserID == nil
}

type Booking struct {
	ID             uuid.UUID
	FieldID        uuid.UUID
	Requester      Requester
	Date           time.Time
	Ranges         []TimeRange
	SlotIDs        []uuid.UUID
	Status         BookingStatus
	PaymentStatus  PaymentStatus
	TotalPrice     decimal.Decimal
	Notes          string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FacilityService struct {
	ID         uuid.UUID
	FacilityID uuid.UUID
	Name       string
	UnitPrice  decimal.Decimal
}

type OrderItem struct {
	ServiceID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	DiscountID     *uuid.UUID
	FieldPrice     decimal.Decimal
	ServicesPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	Status         OrderStatus
	PaymentRef     string
	Items          []OrderItem
	CreatedAt      time.Time
}

// Discount is facility-scoped and valid during [ValidFrom, ValidTo).
type Discount struct {
	ID         uuid.UUID
	FacilityID uuid.UUID
	Code       string
	Percentage decimal.Decimal
	ValidFrom  time.Time
	ValidTo    time.Time
	Remaining  int
}

package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/adapters/mongo"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/pricing"
)

type serviceLineRequest struct {
	ServiceID string `json:"service_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type createBookingRequest struct {
	FieldID    string               `json:"field_id" validate:"required,uuid"`
	Date       string               `json:"date" validate:"required,datetime=2006-01-02"`
	Ranges     []domain.TimeRange   `json:"ranges" validate:"required,min=1,max=24"`
	DiscountID string               `json:"discount_id" validate:"omitempty,uuid"`
	Services   []serviceLineRequest `json:"services" validate:"max=20,dive"`
	Notes      string               `json:"notes" validate:"max=500"`
	GuestName  string               `json:"guest_name" validate:"max=100"`
	GuestPhone string               `json:"guest_phone" validate:"omitempty,min=8,max=20,numeric"`
}

type paymentCallbackRequest struct {
	BookingID  string `json:"booking_id" validate:"required,uuid"`
	PaymentRef string `json:"payment_ref" validate:"required,max=128"`
	Status     string `json:"status" validate:"required,oneof=SUCCESS FAILED"`
}

type slotResponse struct {
	ID        uuid.UUID         `json:"id"`
	Date      string            `json:"date"`
	Start     string            `json:"start"`
	End       string            `json:"end"`
	Status    domain.SlotStatus `json:"status"`
	BookingID *uuid.UUID        `json:"booking_id,omitempty"`
}

func toSlotResponse(s domain.Slot) slotResponse {
	return slotResponse{
		ID:        s.ID,
		Date:      domain.FormatDate(s.Date),
		Start:     s.Range.Start.String(),
		End:       s.Range.End.String(),
		Status:    s.Status,
		BookingID: s.BookingID,
	}
}

func toSlotResponses(slots []domain.Slot) []slotResponse {
	out := make([]slotResponse, len(slots))
	for i, s := range slots {
		out[i] = toSlotResponse(s)
	}
	return out
}

type availabilityResponse struct {
	FieldID   uuid.UUID         `json:"field_id"`
	Date      string            `json:"date"`
	Available bool              `json:"available"`
	Slots     []slotResponse    `json:"slots"`
	Conflicts []domain.Conflict `json:"conflicts"`
}

func toAvailabilityResponse(fieldID uuid.UUID, date time.Time, a domain.Availability) availabilityResponse {
	conflicts := a.Conflicts
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}
	return availabilityResponse{
		FieldID:   fieldID,
		Date:      domain.FormatDate(date),
		Available: a.Available,
		Slots:     toSlotResponses(a.Slots),
		Conflicts: conflicts,
	}
}

type quoteLineResponse struct {
	Range  domain.TimeRange `json:"range"`
	Amount string           `json:"amount"`
}

type quoteResponse struct {
	FieldID uuid.UUID           `json:"field_id"`
	Lines   []quoteLineResponse `json:"lines"`
	Total   string              `json:"total"`
}

func toQuoteResponse(q pricing.Quote) quoteResponse {
	lines := make([]quoteLineResponse, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = quoteLineResponse{Range: l.Range, Amount: domain.DisplayAmount(l.Amount)}
	}
	return quoteResponse{FieldID: q.FieldID, Lines: lines, Total: domain.DisplayAmount(q.Total)}
}

type orderItemResponse struct {
	ServiceID uuid.UUID `json:"service_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	Amount    string    `json:"amount"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	Status         domain.OrderStatus  `json:"status"`
	FieldPrice     string              `json:"field_price"`
	ServicesPrice  string              `json:"services_price"`
	Subtotal       string              `json:"subtotal"`
	DiscountID     *uuid.UUID          `json:"discount_id,omitempty"`
	DiscountAmount string              `json:"discount_amount"`
	Total          string              `json:"total"`
	Items          []orderItemResponse `json:"items"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ServiceID: it.ServiceID,
			Quantity:  it.Quantity,
			UnitPrice: domain.DisplayAmount(it.UnitPrice),
			Amount:    domain.DisplayAmount(it.Amount()),
		}
	}
	return orderResponse{
		ID:             o.ID,
		Status:         o.Status,
		FieldPrice:     domain.DisplayAmount(o.FieldPrice),
		ServicesPrice:  domain.DisplayAmount(o.ServicesPrice),
		Subtotal:       domain.DisplayAmount(o.Subtotal()),
		DiscountID:     o.DiscountID,
		DiscountAmount: domain.DisplayAmount(o.DiscountAmount),
		Total:          domain.DisplayAmount(o.Total),
		Items:          items,
	}
}

type bookingResponse struct {
	ID            uuid.UUID            `json:"id"`
	FieldID       uuid.UUID            `json:"field_id"`
	Date          string               `json:"date"`
	Ranges        []domain.TimeRange   `json:"ranges"`
	SlotIDs       []uuid.UUID          `json:"slot_ids"`
	Status        domain.BookingStatus `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	TotalPrice    string               `json:"total_price"`
	Notes         string               `json:"notes,omitempty"`
	UserID        *uuid.UUID           `json:"user_id,omitempty"`
	GuestName     string               `json:"guest_name,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	PayBefore     *time.Time           `json:"pay_before,omitempty"`
	Order         *orderResponse       `json:"order,omitempty"`
}

func toBookingResponse(b domain.Booking, o *domain.Order, grace time.Duration) bookingResponse {
	resp := bookingResponse{
		ID:            b.ID,
		FieldID:       b.FieldID,
		Date:          domain.FormatDate(b.Date),
		Ranges:        b.Ranges,
		SlotIDs:       b.SlotIDs,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		TotalPrice:    domain.DisplayAmount(b.TotalPrice),
		Notes:         b.Notes,
		UserID:        b.Requester.UserID,
		GuestName:     b.Requester.GuestName,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if b.Status == domain.BookingPending && grace > 0 {
		at := b.ExpiresAt(grace)
		resp.PayBefore = &at
	}
	if o != nil {
		or := toOrderResponse(*o)
		resp.Order = &or
	}
	return resp
}

type historyEntryResponse struct {
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func toHistoryResponse(logs []mongo.AuditLog) []historyEntryResponse {
	out := make([]historyEntryResponse, len(logs))
	for i, l := range logs {
		out[i] = historyEntryResponse{Action: l.Action, Timestamp: l.Timestamp, Data: l.Data}
	}
	return out
}

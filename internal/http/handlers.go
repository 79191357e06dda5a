package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/adapters/mongo"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/payments"
	"github.com/robertarktes/field-booking/internal/pricing"
)

type CalendarService interface {
	GetSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error)
	CheckAvailability(ctx context.Context, fieldID uuid.UUID, date time.Time, ranges []domain.TimeRange) (domain.Availability, error)
}

type PricingService interface {
	Quote(ctx context.Context, fieldID uuid.UUID, ranges []domain.TimeRange) (pricing.Quote, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, req booking.Request) (booking.Result, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, domain.Order, error)
	CancelBooking(ctx context.Context, id uuid.UUID, by domain.Requester) (domain.Booking, error)
	ConfirmPayment(ctx context.Context, pr booking.PaymentResult) (domain.Booking, bool, error)
}

type HistoryService interface {
	History(ctx context.Context, bookingID uuid.UUID) ([]mongo.AuditLog, error)
}

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Handlers struct {
	calendar     CalendarService
	pricing      PricingService
	bookings     BookingService
	history      HistoryService
	checks       map[string]ReadyCheck
	pendingGrace time.Duration
}

// NewHandlers wires the HTTP surface. history may be nil.
func NewHandlers(cal CalendarService, pr PricingService, b BookingService, history HistoryService, checks map[string]ReadyCheck, pendingGrace time.Duration) *Handlers {
	return &Handlers{
		calendar:     cal,
		pricing:      pr,
		bookings:     b,
		history:      history,
		checks:       checks,
		pendingGrace: pendingGrace,
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func queryDate(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, errors.Wrapf(domain.ErrInvalidInput, "%s is required", name)
	}
	return domain.ParseDate(v)
}

func queryRanges(r *http.Request) ([]domain.TimeRange, error) {
	raw := r.URL.Query()["range"]
	if len(raw) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "at least one range=HH:MM-HH:MM is required")
	}
	ranges := make([]domain.TimeRange, 0, len(raw))
	for _, s := range raw {
		tr, err := domain.ParseTimeRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, tr)
	}
	return ranges, nil
}

func requester(r *http.Request) domain.Requester {
	return domain.Requester{UserID: userFrom(r.Context())}
}

func (h *Handlers) GetSlots(w http.ResponseWriter, r *http.Request) {
	fieldID, err := pathUUID(r, "fieldID")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	to := from
	if r.URL.Query().Get("to") != "" {
		if to, err = queryDate(r, "to"); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}

	slots, err := h.calendar.GetSlots(r.Context(), fieldID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"field_id": fieldID,
		"from":     domain.FormatDate(from),
		"to":       domain.FormatDate(to),
		"slots":    toSlotResponses(slots),
	})
}

func (h *Handlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	fieldID, err := pathUUID(r, "fieldID")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	date, err := queryDate(r, "date")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ranges, err := queryRanges(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	avail, err := h.calendar.CheckAvailability(r.Context(), fieldID, date, ranges)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(fieldID, date, avail))
}

func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	fieldID, err := pathUUID(r, "fieldID")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ranges, err := queryRanges(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	q, err := h.pricing.Quote(r.Context(), fieldID, ranges)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponse(q))
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	br := booking.Request{
		FieldID:        uuid.MustParse(req.FieldID),
		Date:           date,
		Ranges:         req.Ranges,
		Requester:      requester(r),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if br.Requester.IsGuest() {
		br.Requester.GuestName = req.GuestName
		br.Requester.GuestPhone = req.GuestPhone
	}
	if req.DiscountID != "" {
		id := uuid.MustParse(req.DiscountID)
		br.DiscountID = &id
	}
	for _, s := range req.Services {
		br.Services = append(br.Services, booking.ServiceLine{ServiceID: uuid.MustParse(s.ServiceID), Quantity: s.Quantity})
	}

	res, err := h.bookings.CreateBooking(r.Context(), br)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toBookingResponse(res.Booking, &res.Order, h.pendingGrace))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, ord, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !b.OwnedBy(requester(r)) {
		writeDomainError(w, r, errors.Wrapf(domain.ErrForbidden, "booking %s belongs to another user", id))
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b, &ord, h.pendingGrace))
}

func (h *Handlers) BookingHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, _, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !b.OwnedBy(requester(r)) {
		writeDomainError(w, r, errors.Wrapf(domain.ErrForbidden, "booking %s belongs to another user", id))
		return
	}
	logs, err := h.history.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": id, "history": toHistoryResponse(logs)})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, err := h.bookings.CancelBooking(r.Context(), id, requester(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b, nil, h.pendingGrace))
}

// PaymentCallback accepts the provider's synchronous notification. Repeated
// callbacks for the same payment reference are acknowledged without effect.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, duplicate, err := h.bookings.ConfirmPayment(r.Context(), booking.PaymentResult{
		BookingID:  uuid.MustParse(req.BookingID),
		PaymentRef: req.PaymentRef,
		Success:    req.Status == payments.StatusSuccess,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_id":     b.ID,
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
		"duplicate":      duplicate,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

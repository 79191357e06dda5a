package booking_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/adapters/memory"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	testNow  = time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	testDate = time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    *memory.Store
	orch     *booking.Orchestrator
	field    domain.Field
	slots    map[string]domain.Slot
	now      time.Time
	discount domain.Discount
	service  domain.FacilityService
}

func newFixture(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()
	s := memory.New()
	f := &fixture{store: s, now: testNow, slots: map[string]domain.Slot{}}
	f.field = domain.Field{ID: uuid.New(), FacilityID: uuid.New(), Category: "football-5", Name: "A", BookingEnabled: true}
	if err := s.AddField(f.field); err != nil {
		t.Fatal(err)
	}
	err := s.SetPricing(f.field.ID, []domain.FieldPricing{
		{Range: domain.TimeRange{Start: 8 * 60, End: 12 * 60}, PricePerHour: decimal.NewFromInt(100000)},
		{Range: domain.TimeRange{Start: 12 * 60, End: 18 * 60}, PricePerHour: decimal.NewFromInt(150000)},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, date := range []time.Time{testDate, testDate.AddDate(0, 0, 1)} {
		for h := 8; h < 20; h++ {
			sl := domain.Slot{
				ID:      uuid.New(),
				FieldID: f.field.ID,
				Date:    date,
				Range:   domain.TimeRange{Start: domain.TimeOfDay(h * 60), End: domain.TimeOfDay((h + 1) * 60)},
				Status:  domain.SlotAvailable,
			}
			if err := s.AddSlots(sl); err != nil {
				t.Fatal(err)
			}
			f.slots[domain.FormatDate(date)+" "+sl.Range.Start.String()] = sl
		}
	}
	f.discount = domain.Discount{
		ID:         uuid.New(),
		FacilityID: f.field.FacilityID,
		Code:       "ONCE",
		Percentage: decimal.NewFromInt(10),
		ValidFrom:  testNow.Add(-time.Hour),
		ValidTo:    testNow.Add(24 * time.Hour),
		Remaining:  1,
	}
	if err := s.AddDiscount(f.discount); err != nil {
		t.Fatal(err)
	}
	f.service = domain.FacilityService{ID: uuid.New(), FacilityID: f.field.FacilityID, Name: "Bibs", UnitPrice: decimal.NewFromInt(20000)}
	if err := s.AddService(f.service); err != nil {
		t.Fatal(err)
	}

	var st store.Store = s
	if wrap != nil {
		st = wrap(s)
	}
	f.orch = booking.New(st, nil, nil, observability.NopLogger(), booking.Options{
		PendingGrace: 15 * time.Minute,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Location:     time.UTC,
		Now:          func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) slot(t *testing.T, date time.Time, start string) domain.Slot {
	t.Helper()
	sl, ok := f.slots[domain.FormatDate(date)+" "+start]
	if !ok {
		t.Fatalf("no slot %s at %s", domain.FormatDate(date), start)
	}
	cur, _ := f.store.Slot(sl.ID)
	return cur
}

func rng(t *testing.T, s string) domain.TimeRange {
	t.Helper()
	r, err := domain.ParseTimeRange(s)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func guest() domain.Requester {
	return domain.Requester{GuestName: "Lan", GuestPhone: "0901234567"}
}

func (f *fixture) request(t *testing.T, ranges ...string) booking.Request {
	req := booking.Request{FieldID: f.field.ID, Date: testDate, Requester: guest()}
	for _, r := range ranges {
		req.Ranges = append(req.Ranges, rng(t, r))
	}
	return req
}

func TestCreateBooking_HoldsSlotsAndPrices(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.request(t, "11:00-13:00")
	req.Services = []booking.ServiceLine{{ServiceID: f.service.ID, Quantity: 1}, {ServiceID: f.service.ID, Quantity: 1}}
	res, err := f.orch.CreateBooking(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	b := res.Booking
	if b.Status != domain.BookingPending || b.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("unexpected booking state %s/%s", b.Status, b.PaymentStatus)
	}
	if !b.TotalPrice.Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("field price = %s, want 250000", b.TotalPrice)
	}
	if !res.Order.Total.Equal(decimal.NewFromInt(290000)) || len(res.Order.Items) != 1 || res.Order.Items[0].Quantity != 2 {
		t.Fatalf("unexpected order %+v", res.Order)
	}
	if len(b.SlotIDs) != 2 {
		t.Fatalf("expected two slots, got %d", len(b.SlotIDs))
	}
	for _, start := range []string{"11:00", "12:00"} {
		sl := f.slot(t, testDate, start)
		if sl.Status != domain.SlotPending || sl.BookingID == nil || *sl.BookingID != b.ID {
			t.Fatalf("slot %s: %+v", start, sl)
		}
	}
	if sl := f.slot(t, testDate, "13:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("13:00 should stay available, got %s", sl.Status)
	}

	events, _ := f.store.FetchUnpublished(ctx, 10)
	if len(events) != 1 || events[0].EventType != domain.EventBookingPending {
		t.Fatalf("expected one booking.pending event, got %+v", events)
	}
}

func TestCreateBooking_ConcurrentOverlapOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, nil)
		ctx := context.Background()

		var g errgroup.Group
		errs := make([]error, 2)
		for j, r := range []string{"10:00-12:00", "11:00-13:00"} {
			j := j
			req := f.request(t, r)
			g.Go(func() error {
				_, errs[j] = f.orch.CreateBooking(ctx, req)
				return nil
			})
		}
		g.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrSlotConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error %v", err)
			}
		}
		if ok != 1 || conflicts != 1 {
			t.Fatalf("run %d: %d successes and %d conflicts, want 1 and 1", i, ok, conflicts)
		}
	}
}

func TestCreateBooking_DiscountUsedOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var g errgroup.Group
	errs := make([]error, 2)
	for j, r := range []string{"08:00-09:00", "14:00-15:00"} {
		req := f.request(t, r)
		id := f.discount.ID
		req.DiscountID = &id
		j := j
		g.Go(func() error {
			_, errs[j] = f.orch.CreateBooking(ctx, req)
			return nil
		})
	}
	g.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidDiscount):
			invalid++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("%d successes and %d invalid discounts, want 1 and 1", ok, invalid)
	}
	d, _ := f.store.Discount(f.discount.ID)
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining)
	}
}

type noDecrementTx struct {
	store.Tx
}

func (noDecrementTx) DecrementDiscount(ctx context.Context, id uuid.UUID) (int64, error) {
	return 0, nil
}

type faultyStore struct {
	store.Store
	serializationFailures atomic.Int32
	exhaustDiscount       bool
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.serializationFailures.Add(-1) >= 0 {
		return domain.ErrSerializationFailure
	}
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if s.exhaustDiscount {
			return fn(noDecrementTx{tx})
		}
		return fn(tx)
	})
}

func TestCreateBooking_FailedDecrementRollsBack(t *testing.T) {
	f := newFixture(t, func(s store.Store) store.Store {
		return &faultyStore{Store: s, exhaustDiscount: true}
	})
	ctx := context.Background()

	req := f.request(t, "09:00-11:00")
	id := f.discount.ID
	req.DiscountID = &id
	req.IdempotencyKey = "rollback-key-000001"
	_, err := f.orch.CreateBooking(ctx, req)
	if !errors.Is(err, domain.ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got %v", err)
	}

	for _, start := range []string{"09:00", "10:00"} {
		if sl := f.slot(t, testDate, start); sl.Status != domain.SlotAvailable || sl.BookingID != nil {
			t.Fatalf("slot %s left behind: %+v", start, sl)
		}
	}
	if _, err := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("booking should not exist, got %v", err)
	}
	if events, _ := f.store.FetchUnpublished(ctx, 10); len(events) != 0 {
		t.Fatalf("no event should be recorded, got %d", len(events))
	}
}

func TestCreateBooking_RetriesSerializationFailures(t *testing.T) {
	var fs *faultyStore
	f := newFixture(t, func(s store.Store) store.Store {
		fs = &faultyStore{Store: s}
		return fs
	})
	ctx := context.Background()

	fs.serializationFailures.Store(2)
	if _, err := f.orch.CreateBooking(ctx, f.request(t, "08:00-09:00")); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	fs.serializationFailures.Store(10)
	_, err := f.orch.CreateBooking(ctx, f.request(t, "09:00-10:00"))
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if sl := f.slot(t, testDate, "09:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("slot should be untouched, got %s", sl.Status)
	}
}

func TestCreateBooking_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.request(t, "15:00-16:00")
	req.IdempotencyKey = "client-key-0000001"
	first, err := f.orch.CreateBooking(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.CreateBooking(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || second.Booking.ID != first.Booking.ID || second.Order.ID != first.Order.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Booking.ID, second)
	}
}

func TestCreateBooking_IdempotencyKeyBoundToRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	user := uuid.New()
	req := f.request(t, "15:00-16:00", "13:00-14:00")
	req.Requester = domain.Requester{UserID: &user}
	req.IdempotencyKey = "client-key-0000002"
	if _, err := f.orch.CreateBooking(ctx, req); err != nil {
		t.Fatal(err)
	}

	reordered := req
	reordered.Ranges = []domain.TimeRange{rng(t, "13:00-14:00"), rng(t, "15:00-16:00")}
	if res, err := f.orch.CreateBooking(ctx, reordered); err != nil || !res.Replayed {
		t.Fatalf("same ranges in another order should replay, got %+v %v", res, err)
	}

	other := uuid.New()
	tests := []struct {
		name   string
		mutate func(r *booking.Request)
	}{
		{"different ranges", func(r *booking.Request) { r.Ranges = []domain.TimeRange{rng(t, "16:00-17:00")} }},
		{"fewer ranges", func(r *booking.Request) { r.Ranges = r.Ranges[:1] }},
		{"another user", func(r *booking.Request) { r.Requester = domain.Requester{UserID: &other} }},
		{"guest", func(r *booking.Request) { r.Requester = guest() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := req
			r.Ranges = append([]domain.TimeRange(nil), req.Ranges...)
			tt.mutate(&r)
			if _, err := f.orch.CreateBooking(ctx, r); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if sl := f.slot(t, testDate, "16:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("16:00 slot must stay available, got %s", sl.Status)
	}
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	disabled := domain.Field{ID: uuid.New(), FacilityID: f.field.FacilityID, Name: "closed"}
	if err := f.store.AddField(disabled); err != nil {
		t.Fatal(err)
	}
	otherFacility := domain.Discount{
		ID:         uuid.New(),
		FacilityID: uuid.New(),
		Code:       "ELSEWHERE",
		Percentage: decimal.NewFromInt(5),
		ValidFrom:  testNow.Add(-time.Hour),
		ValidTo:    testNow.Add(time.Hour),
		Remaining:  5,
	}
	if err := f.store.AddDiscount(otherFacility); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(r *booking.Request)
		want   error
	}{
		{"missing guest phone", func(r *booking.Request) { r.Requester.GuestPhone = "" }, domain.ErrInvalidInput},
		{"no ranges", func(r *booking.Request) { r.Ranges = nil }, domain.ErrInvalidInput},
		{"in the past", func(r *booking.Request) { r.Date = testNow.AddDate(0, 0, -1) }, domain.ErrInvalidInput},
		{"unknown field", func(r *booking.Request) { r.FieldID = uuid.New() }, domain.ErrNotFound},
		{"disabled field", func(r *booking.Request) { r.FieldID = disabled.ID }, domain.ErrInvalidInput},
		{"overlapping ranges", func(r *booking.Request) { r.Ranges = append(r.Ranges, rng(t, "08:30-09:30")) }, domain.ErrSlotConflict},
		{"outside schedule", func(r *booking.Request) { r.Ranges = []domain.TimeRange{rng(t, "20:00-21:00")} }, domain.ErrSlotConflict},
		{"no pricing", func(r *booking.Request) { r.Ranges = []domain.TimeRange{rng(t, "18:00-19:00")} }, domain.ErrNoPricingConfigured},
		{"discount of another facility", func(r *booking.Request) { r.DiscountID = &otherFacility.ID }, domain.ErrInvalidDiscount},
		{"unknown discount", func(r *booking.Request) { id := uuid.New(); r.DiscountID = &id }, domain.ErrNotFound},
		{"unknown service", func(r *booking.Request) {
			r.Services = []booking.ServiceLine{{ServiceID: uuid.New(), Quantity: 1}}
		}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(t, "08:00-09:00")
			tt.mutate(&req)
			if _, err := f.orch.CreateBooking(ctx, req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if sl := f.slot(t, testDate, "08:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("rejected requests must not hold slots, got %s", sl.Status)
	}
}

func TestCreateBooking_PartialSlotIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.CreateBooking(ctx, f.request(t, "10:59-11:00"))
	var ce *domain.ConflictError
	if !errors.As(err, &ce) || ce.Conflicts[0].Reason != domain.ReasonMisaligned {
		t.Fatalf("expected a misaligned conflict, got %v", err)
	}
	if sl := f.slot(t, testDate, "10:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("10:00 slot must stay available, got %s", sl.Status)
	}

	res, err := f.orch.CreateBooking(ctx, f.request(t, "10:00-11:00"))
	if err != nil {
		t.Fatalf("whole slot should still be bookable: %v", err)
	}
	if !res.Order.FieldPrice.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected one full hour priced, got %s", res.Order.FieldPrice)
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.CreateBooking(ctx, f.request(t, "16:00-18:00"))
	if err != nil {
		t.Fatal(err)
	}
	pr := booking.PaymentResult{BookingID: res.Booking.ID, PaymentRef: res.Order.PaymentRef, Success: true}

	b, dup, err := f.orch.ConfirmPayment(ctx, pr)
	if err != nil || dup {
		t.Fatalf("confirm: dup=%v err=%v", dup, err)
	}
	if b.Status != domain.BookingBooked || b.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("unexpected booking %s/%s", b.Status, b.PaymentStatus)
	}
	for _, start := range []string{"16:00", "17:00"} {
		if sl := f.slot(t, testDate, start); sl.Status != domain.SlotBooked {
			t.Fatalf("slot %s = %s", start, sl.Status)
		}
	}
	_, ord, err := f.orch.GetBooking(ctx, b.ID)
	if err != nil || ord.Status != domain.OrderPaid {
		t.Fatalf("order status %s, err %v", ord.Status, err)
	}

	if _, dup, err := f.orch.ConfirmPayment(ctx, pr); err != nil || !dup {
		t.Fatalf("redelivery should be a duplicate: dup=%v err=%v", dup, err)
	}

	wrongRef := booking.PaymentResult{BookingID: b.ID, PaymentRef: "someone-else", Success: true}
	if _, _, err := f.orch.ConfirmPayment(ctx, wrongRef); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a foreign reference, got %v", err)
	}
}

func TestConfirmPayment_FailureReleasesSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.CreateBooking(ctx, f.request(t, "09:00-10:00"))
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := f.orch.ConfirmPayment(ctx, booking.PaymentResult{BookingID: res.Booking.ID, PaymentRef: res.Order.PaymentRef})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.BookingCancelled || b.PaymentStatus != domain.PaymentFailed {
		t.Fatalf("unexpected booking %s/%s", b.Status, b.PaymentStatus)
	}
	if sl := f.slot(t, testDate, "09:00"); sl.Status != domain.SlotAvailable || sl.BookingID != nil {
		t.Fatalf("slot not released: %+v", sl)
	}
	if _, err := f.orch.CreateBooking(ctx, f.request(t, "09:00-10:00")); err != nil {
		t.Fatalf("released slot should be bookable again: %v", err)
	}
}

func TestConfirmPayment_LateSuccessAfterExpiry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.CreateBooking(ctx, f.request(t, "09:00-10:00"))
	if err != nil {
		t.Fatal(err)
	}
	expired, err := f.orch.ExpireBooking(ctx, res.Booking.ID, testNow.Add(16*time.Minute))
	if err != nil || !expired {
		t.Fatalf("expire: %v %v", expired, err)
	}
	_, _, err = f.orch.ConfirmPayment(ctx, booking.PaymentResult{BookingID: res.Booking.ID, PaymentRef: res.Order.PaymentRef, Success: true})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpireBooking_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	before := f.slot(t, testDate, "10:00")

	res, err := f.orch.CreateBooking(ctx, f.request(t, "10:00-11:00"))
	if err != nil {
		t.Fatal(err)
	}

	if expired, err := f.orch.ExpireBooking(ctx, res.Booking.ID, testNow.Add(10*time.Minute)); err != nil || expired {
		t.Fatalf("inside the grace period nothing expires: %v %v", expired, err)
	}
	if expired, err := f.orch.ExpireBooking(ctx, res.Booking.ID, testNow.Add(20*time.Minute)); err != nil || !expired {
		t.Fatalf("expire: %v %v", expired, err)
	}
	after := f.slot(t, testDate, "10:00")
	if after != before {
		t.Fatalf("slot after expiry %+v differs from %+v", after, before)
	}

	b, ord, err := f.orch.GetBooking(ctx, res.Booking.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.BookingExpired || ord.Status != domain.OrderExpired {
		t.Fatalf("booking %s, order %s", b.Status, ord.Status)
	}
	if len(b.SlotIDs) != 1 || b.SlotIDs[0] != before.ID {
		t.Fatal("expired booking should still reference its slot")
	}
	if expired, err := f.orch.ExpireBooking(ctx, res.Booking.ID, testNow.Add(time.Hour)); err != nil || expired {
		t.Fatalf("second expiry must be a no-op: %v %v", expired, err)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()

	req := f.request(t, "12:00-13:00")
	req.Requester = domain.Requester{UserID: &owner}
	res, err := f.orch.CreateBooking(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.CancelBooking(ctx, res.Booking.ID, domain.Requester{UserID: &stranger}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	b, err := f.orch.CancelBooking(ctx, res.Booking.ID, domain.Requester{UserID: &owner})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.BookingCancelled {
		t.Fatalf("status %s", b.Status)
	}
	if sl := f.slot(t, testDate, "12:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("pending cancellation should release the slot, got %s", sl.Status)
	}
	if _, err := f.orch.CancelBooking(ctx, res.Booking.ID, domain.Requester{UserID: &owner}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelBooking_BookedSlotsAreReplaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	original := f.slot(t, testDate, "17:00")

	res, err := f.orch.CreateBooking(ctx, f.request(t, "17:00-18:00"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.orch.ConfirmPayment(ctx, booking.PaymentResult{BookingID: res.Booking.ID, PaymentRef: res.Order.PaymentRef, Success: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.CancelBooking(ctx, res.Booking.ID, guest()); err != nil {
		t.Fatal(err)
	}

	if sl, _ := f.store.Slot(original.ID); sl.Status != domain.SlotCancelled {
		t.Fatalf("booked slot should be cancelled, got %s", sl.Status)
	}
	slots, err := f.store.ListSlots(ctx, f.field.ID, testDate, testDate)
	if err != nil {
		t.Fatal(err)
	}
	var replacement *domain.Slot
	for i, sl := range slots {
		if sl.Range == original.Range && sl.Status == domain.SlotAvailable {
			replacement = &slots[i]
		}
	}
	if replacement == nil || replacement.ID == original.ID {
		t.Fatal("expected a fresh available slot for 17:00-18:00")
	}
	if _, err := f.orch.CreateBooking(ctx, f.request(t, "17:00-18:00")); err != nil {
		t.Fatalf("replacement slot should be bookable: %v", err)
	}
}

func TestCloseElapsedSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.CreateBooking(ctx, f.request(t, "08:00-09:00"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.orch.ConfirmPayment(ctx, booking.PaymentResult{BookingID: res.Booking.ID, PaymentRef: res.Order.PaymentRef, Success: true}); err != nil {
		t.Fatal(err)
	}

	at := testDate.Add(10*time.Hour + 30*time.Minute)
	completed, expired, err := f.orch.CloseElapsedSlots(ctx, at)
	if err != nil {
		t.Fatal(err)
	}
	if completed != 1 || expired != 1 {
		t.Fatalf("completed=%d expired=%d, want 1 and 1", completed, expired)
	}
	if sl := f.slot(t, testDate, "08:00"); sl.Status != domain.SlotCompleted {
		t.Fatalf("08:00 = %s", sl.Status)
	}
	if sl := f.slot(t, testDate, "09:00"); sl.Status != domain.SlotExpired {
		t.Fatalf("09:00 = %s", sl.Status)
	}
	if sl := f.slot(t, testDate, "10:00"); sl.Status != domain.SlotAvailable {
		t.Fatalf("10:00 is still running, got %s", sl.Status)
	}

	completed, expired, err = f.orch.CloseElapsedSlots(ctx, at)
	if err != nil || completed+expired != 0 {
		t.Fatalf("second pass should change nothing: %d %d %v", completed, expired, err)
	}
}

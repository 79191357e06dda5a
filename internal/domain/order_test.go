package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestDiscountValidate(t *testing.T) {
	facility := uuid.New()
	now := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	base := Discount{
		ID:         uuid.New(),
		FacilityID: facility,
		Code:       "AUTUMN10",
		Percentage: decimal.NewFromInt(10),
		ValidFrom:  now.Add(-24 * time.Hour),
		ValidTo:    now.Add(24 * time.Hour),
		Remaining:  1,
	}

	tests := []struct {
		name   string
		mutate func(d *Discount)
		ok     bool
	}{
		{name: "valid", mutate: func(d *Discount) {}, ok: true},
		{name: "other facility", mutate: func(d *Discount) { d.FacilityID = uuid.New() }},
		{name: "not started", mutate: func(d *Discount) { d.ValidFrom = now.Add(time.Minute) }},
		{name: "ends now", mutate: func(d *Discount) { d.ValidTo = now }},
		{name: "exhausted", mutate: func(d *Discount) { d.Remaining = 0 }},
		{name: "zero percent", mutate: func(d *Discount) { d.Percentage = decimal.Zero }},
		{name: "over hundred percent", mutate: func(d *Discount) { d.Percentage = decimal.NewFromInt(101) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := d.Validate(facility, now)
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidDiscount) {
				t.Fatalf("expected ErrInvalidDiscount, got %v", err)
			}
		})
	}
}

func TestNewOrder_Totals(t *testing.T) {
	b := Booking{ID: uuid.New(), CreatedAt: time.Now()}
	items := []OrderItem{
		{ServiceID: uuid.New(), Quantity: 2, UnitPrice: decimal.NewFromInt(20000)},
		{ServiceID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(10000)},
	}
	d := &Discount{ID: uuid.New(), Percentage: decimal.NewFromInt(10)}

	o := NewOrder(b, decimal.NewFromInt(250000), items, d)

	if !o.ServicesPrice.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("services = %s", o.ServicesPrice)
	}
	if !o.Subtotal().Equal(decimal.NewFromInt(300000)) {
		t.Fatalf("subtotal = %s", o.Subtotal())
	}
	if !o.DiscountAmount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("discount = %s", o.DiscountAmount)
	}
	if !o.Total.Equal(decimal.NewFromInt(270000)) {
		t.Fatalf("total = %s", o.Total)
	}
	if o.DiscountID == nil || *o.DiscountID != d.ID {
		t.Fatal("discount id not recorded")
	}
	if o.Status != OrderPending || o.PaymentRef == "" || o.PaymentRef == o.ID.String() {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestNewOrder_FullDiscountNeverNegative(t *testing.T) {
	b := Booking{ID: uuid.New()}
	o := NewOrder(b, decimal.NewFromInt(100000), nil, &Discount{ID: uuid.New(), Percentage: decimal.NewFromInt(100)})
	if !o.Total.IsZero() {
		t.Fatalf("total = %s, want 0", o.Total)
	}
}

func TestBookingOwnership(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	b := Booking{Requester: Requester{UserID: &owner}}

	if !b.OwnedBy(Requester{UserID: &owner}) {
		t.Fatal("owner should own the booking")
	}
	if b.OwnedBy(Requester{UserID: &other}) {
		t.Fatal("another user should not own the booking")
	}
	if b.OwnedBy(Requester{GuestName: "a", GuestPhone: "1"}) {
		t.Fatal("a guest should not own a user's booking")
	}
	guest := Booking{Requester: Requester{GuestName: "a", GuestPhone: "1"}}
	if !guest.OwnedBy(Requester{}) {
		t.Fatal("guest bookings have no owner to check")
	}
}

func TestRequesterValidate(t *testing.T) {
	id := uuid.New()
	if err := (Requester{UserID: &id}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Requester{GuestName: "Lan", GuestPhone: "0901234567"}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Requester{GuestName: "Lan"}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

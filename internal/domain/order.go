package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks that d may be applied to a booking of facilityID at instant now.
func (d Discount) Validate(facilityID uuid.UUID, now time.Time) error {
	switch {
	case d.FacilityID != facilityID:
		return errors.Wrapf(ErrInvalidDiscount, "discount %s belongs to another facility", d.Code)
	case now.Before(d.ValidFrom) || !now.Before(d.ValidTo):
		return errors.Wrapf(ErrInvalidDiscount, "discount %s is outside its validity window", d.Code)
	case d.Remaining <= 0:
		return errors.Wrapf(ErrInvalidDiscount, "discount %s is exhausted", d.Code)
	case !d.Percentage.IsPositive() || d.Percentage.GreaterThan(hundred):
		return errors.Wrapf(ErrInvalidDiscount, "discount %s has percentage %s", d.Code, d.Percentage)
	}
	return nil
}

func (d Discount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(d.Percentage).Div(hundred)
}

// NewOrder derives the order of a booking from its field price, service lines and an
// optional, already validated, discount.
func NewOrder(b Booking, fieldPrice decimal.Decimal, items []OrderItem, discount *Discount) Order {
	services := decimal.Zero
	for _, it := range items {
		services = services.Add(it.Amount())
	}
	subtotal := fieldPrice.Add(services)

	o := Order{
		ID:             uuid.New(),
		BookingID:      b.ID,
		FieldPrice:     fieldPrice,
		ServicesPrice:  services,
		DiscountAmount: decimal.Zero,
		Status:         OrderPending,
		Items:          items,
		CreatedAt:      b.CreatedAt,
	}
	if discount != nil {
		id := discount.ID
		o.DiscountID = &id
		o.DiscountAmount = decimal.Min(discount.Amount(subtotal), subtotal)
	}
	o.Total = subtotal.Sub(o.DiscountAmount)
	o.PaymentRef = uuid.NewString()
	return o
}

func (o Order) Subtotal() decimal.Decimal {
	return o.FieldPrice.Add(o.ServicesPrice)
}

package memory

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/shopspring/decimal"
)

// mutate applies fn to a copy of the committed state and publishes it.
func (s *Store) mutate(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) AddField(f domain.Field) error {
	return s.mutate(func(st *state) error {
		st.fields[f.ID] = f
		return nil
	})
}

// SetPricing replaces the pricing tiers of a field.
func (s *Store) SetPricing(fieldID uuid.UUID, rules []domain.FieldPricing) error {
	if err := domain.ValidatePricing(rules); err != nil {
		return err
	}
	return s.mutate(func(st *state) error {
		if _, ok := st.fields[fieldID]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "field %s", fieldID)
		}
		tiers := make([]domain.FieldPricing, len(rules))
		for i, r := range rules {
			r.FieldID = fieldID
			if r.ID == uuid.Nil {
				r.ID = uuid.New()
			}
			tiers[i] = r
		}
		st.pricing[fieldID] = tiers
		return nil
	})
}

func (s *Store) AddDiscount(d domain.Discount) error {
	return s.mutate(func(st *state) error {
		st.discounts[d.ID] = d
		return nil
	})
}

func (s *Store) AddService(svc domain.FacilityService) error {
	return s.mutate(func(st *state) error {
		st.services[svc.ID] = svc
		return nil
	})
}

func (s *Store) AddSlots(slots ...domain.Slot) error {
	return s.mutate(func(st *state) error {
		for _, sl := range slots {
			st.slots[sl.ID] = sl
		}
		return nil
	})
}

func (s *Store) Discount(id uuid.UUID) (domain.Discount, bool) {
	d, ok := s.read().discounts[id]
	return d, ok
}

func (s *Store) Slot(id uuid.UUID) (domain.Slot, bool) {
	sl, ok := s.read().slots[id]
	return sl, ok
}

// SeedDemo registers one facility with a five-a-side field priced in two tiers and
// a ten percent discount, for local runs without a database.
func (s *Store) SeedDemo(now time.Time) (domain.Field, error) {
	facility := uuid.MustParse("6f1c2b0e-3d4a-4c61-9a57-1f0b6f3f6a10")
	field := domain.Field{
		ID:             uuid.MustParse("0d3f7f5e-8a8c-4b7c-9f0e-2f3b8c1d9a21"),
		FacilityID:     facility,
		Category:       "football-5",
		Name:           "Field A",
		BookingEnabled: true,
	}
	if err := s.AddField(field); err != nil {
		return domain.Field{}, err
	}
	err := s.SetPricing(field.ID, []domain.FieldPricing{
		{Range: domain.TimeRange{Start: 6 * 60, End: 17 * 60}, PricePerHour: decimal.NewFromInt(100000)},
		{Range: domain.TimeRange{Start: 17 * 60, End: 22 * 60}, PricePerHour: decimal.NewFromInt(150000)},
	})
	if err != nil {
		return domain.Field{}, err
	}
	err = s.AddDiscount(domain.Discount{
		ID:         uuid.MustParse("9b2d4c1a-7e3f-4d2b-8c6a-5e4f3a2b1c0d"),
		FacilityID: facility,
		Code:       "WELCOME10",
		Percentage: decimal.NewFromInt(10),
		ValidFrom:  now.Add(-24 * time.Hour),
		ValidTo:    now.AddDate(0, 3, 0),
		Remaining:  100,
	})
	if err != nil {
		return domain.Field{}, err
	}
	err = s.AddService(domain.FacilityService{
		ID:         uuid.MustParse("3c5e7a9b-1d2f-4a6b-8e0c-7f9a1b3d5e70"),
		FacilityID: facility,
		Name:       "Bib rental",
		UnitPrice:  decimal.NewFromInt(20000),
	})
	return field, err
}

func sortBookingsByCreation(bs []domain.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		return bs[i].CreatedAt.Before(bs[j].CreatedAt)
	})
}

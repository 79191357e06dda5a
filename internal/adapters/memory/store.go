// Package memory keeps the booking data in process. Transactions are serialized by a
// single lock and run against a copy of the state that replaces it only on commit, so a
// committed state is never mutated and readers may use it without holding the lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/store"
)

type outboxRow struct {
	event       domain.OutboxEvent
	publishedAt *time.Time
}

type state struct {
	fields    map[uuid.UUID]domain.Field
	pricing   map[uuid.UUID][]domain.FieldPricing
	slots     map[uuid.UUID]domain.Slot
	bookings  map[uuid.UUID]domain.Booking
	idemKeys  map[string]uuid.UUID
	orders    map[uuid.UUID]domain.Order
	discounts map[uuid.UUID]domain.Discount
	services  map[uuid.UUID]domain.FacilityService
	payments  map[string]uuid.UUID
	outbox    []outboxRow
}

func newState() *state {
	return &state{
		fields:    map[uuid.UUID]domain.Field{},
		pricing:   map[uuid.UUID][]domain.FieldPricing{},
		slots:     map[uuid.UUID]domain.Slot{},
		bookings:  map[uuid.UUID]domain.Booking{},
		idemKeys:  map[string]uuid.UUID{},
		orders:    map[uuid.UUID]domain.Order{},
		discounts: map[uuid.UUID]domain.Discount{},
		services:  map[uuid.UUID]domain.FacilityService{},
		payments:  map[string]uuid.UUID{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.fields {
		c.fields[k] = v
	}
	for k, v := range s.pricing {
		c.pricing[k] = append([]domain.FieldPricing(nil), v...)
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.idemKeys {
		c.idemKeys[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.outbox = append([]outboxRow(nil), s.outbox...)
	return c
}

type Store struct {
	mu sync.RWMutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Store) GetField(ctx context.Context, id uuid.UUID) (domain.Field, error) {
	return s.read().getField(id)
}

func (s *Store) ListBookableFields(ctx context.Context) ([]domain.Field, error) {
	return s.read().listBookableFields(), nil
}

func (s *Store) ListPricing(ctx context.Context, fieldID uuid.UUID) ([]domain.FieldPricing, error) {
	return s.read().listPricing(fieldID), nil
}

func (s *Store) ListSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error) {
	return s.read().listSlots(fieldID, from, to), nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.read().getBooking(id)
}

func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error) {
	return s.read().getBookingByKey(key)
}

func (s *Store) GetOrderByBooking(ctx context.Context, bookingID uuid.UUID) (domain.Order, error) {
	return s.read().getOrder(bookingID)
}

func (s *state) getField(id uuid.UUID) (domain.Field, error) {
	f, ok := s.fields[id]
	if !ok {
		return domain.Field{}, errors.Wrapf(domain.ErrNotFound, "field %s", id)
	}
	return f, nil
}

func (s *state) listBookableFields() []domain.Field {
	var out []domain.Field
	for _, f := range s.fields {
		if f.BookingEnabled {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *state) listPricing(fieldID uuid.UUID) []domain.FieldPricing {
	return append([]domain.FieldPricing(nil), s.pricing[fieldID]...)
}

func (s *state) listSlots(fieldID uuid.UUID, from, to time.Time) []domain.Slot {
	var out []domain.Slot
	for _, sl := range s.slots {
		if sl.FieldID != fieldID || sl.Date.Before(from) || sl.Date.After(to) {
			continue
		}
		out = append(out, sl)
	}
	sortSlots(out)
	return out
}

func sortSlots(slots []domain.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		return a.Status == domain.SlotCancelled && b.Status != domain.SlotCancelled
	})
}

func (s *state) getBooking(id uuid.UUID) (domain.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, nil
}

func (s *state) getBookingByKey(key string) (domain.Booking, error) {
	id, ok := s.idemKeys[key]
	if !ok {
		return domain.Booking{}, errors.Wrap(domain.ErrNotFound, "booking by idempotency key")
	}
	return s.getBooking(id)
}

func (s *state) getOrder(bookingID uuid.UUID) (domain.Order, error) {
	o, ok := s.orders[bookingID]
	if !ok {
		return domain.Order{}, errors.Wrapf(domain.ErrNotFound, "order of booking %s", bookingID)
	}
	return o, nil
}

// FetchUnpublished returns outbox events not yet relayed, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	st := s.read()
	var out []domain.OutboxEvent
	for _, row := range st.outbox {
		if row.publishedAt == nil {
			out = append(out, row.event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.st.outbox {
		if row.event.ID == id {
			next := *s.st
			next.outbox = append([]outboxRow(nil), s.st.outbox...)
			next.outbox[i].publishedAt = &at
			s.st = &next
			return nil
		}
	}
	return errors.Wrapf(domain.ErrNotFound, "outbox event %s", id)
}

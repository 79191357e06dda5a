// Package calendar serves the slot schedule of a field and answers availability
// questions against it.
package calendar

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/store"
)

// MaxRangeDays bounds one calendar read.
const MaxRangeDays = 62

type SlotCache interface {
	SlotsKey(ctx context.Context, fieldID uuid.UUID, from, to string) (string, error)
	InvalidateField(ctx context.Context, fieldID uuid.UUID) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Service struct {
	store  store.Reader
	cache  SlotCache
	ttl    time.Duration
	logger observability.Logger
}

// NewService builds the calendar. cache may be nil.
func NewService(r store.Reader, cache SlotCache, ttl time.Duration, logger observability.Logger) *Service {
	return &Service{store: r, cache: cache, ttl: ttl, logger: logger}
}

// GetSlots returns the slots of a field for the dates from..to inclusive, ordered by
// date and start time.
func (s *Service) GetSlots(ctx context.Context, fieldID uuid.UUID, from, to time.Time) ([]domain.Slot, error) {
	from, to = domain.DateOf(from), domain.DateOf(to)
	if to.Before(from) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "date range ends before it starts")
	}
	if to.Sub(from) > MaxRangeDays*24*time.Hour {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "date range longer than %d days", MaxRangeDays)
	}
	if _, err := s.store.GetField(ctx, fieldID); err != nil {
		return nil, err
	}

	key := s.cacheKey(ctx, fieldID, from, to)
	if key != "" {
		var cached []domain.Slot
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("slot cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	slots, err := s.store.ListSlots(ctx, fieldID, from, to)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := s.cache.SetJSON(ctx, key, slots, s.ttl); err != nil {
			s.logger.WithError(err).Warn("slot cache write failed")
		}
	}
	return slots, nil
}

func (s *Service) cacheKey(ctx context.Context, fieldID uuid.UUID, from, to time.Time) string {
	if s.cache == nil || s.ttl <= 0 {
		return ""
	}
	key, err := s.cache.SlotsKey(ctx, fieldID, domain.FormatDate(from), domain.FormatDate(to))
	if err != nil {
		s.logger.WithError(err).Warn("slot cache unavailable")
		return ""
	}
	return key
}

// CheckAvailability reports whether ranges on date can be booked right now. It always
// reads the store, never the cache.
func (s *Service) CheckAvailability(ctx context.Context, fieldID uuid.UUID, date time.Time, ranges []domain.TimeRange) (domain.Availability, error) {
	field, err := s.store.GetField(ctx, fieldID)
	if err != nil {
		return domain.Availability{}, err
	}
	if !field.BookingEnabled {
		return domain.Availability{}, errors.Wrapf(domain.ErrInvalidInput, "field %s does not accept bookings", fieldID)
	}
	date = domain.DateOf(date)
	slots, err := s.store.ListSlots(ctx, fieldID, date, date)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.CheckAvailability(slots, ranges)
}

// Invalidate drops cached calendar pages of a field after its slots changed.
func (s *Service) Invalidate(ctx context.Context, fieldID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateField(ctx, fieldID); err != nil {
		s.logger.WithError(err).WithField("field_id", fieldID).Warn("slot cache invalidation failed")
	}
}

package pricing

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/store"
	"github.com/shopspring/decimal"
)

type Line struct {
	Range  domain.TimeRange
	Amount decimal.Decimal
}

type Quote struct {
	FieldID uuid.UUID
	Lines   []Line
	Total   decimal.Decimal
}

type Service struct {
	store store.Reader
}

func NewService(r store.Reader) *Service {
	return &Service{store: r}
}

func (s *Service) ResolvePrice(ctx context.Context, fieldID uuid.UUID, r domain.TimeRange) (decimal.Decimal, error) {
	rules, err := s.rules(ctx, fieldID)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.ResolvePrice(rules, r)
}

// Quote prices each range and the total. The total is computed exactly and may
// differ from the sum of the individually rounded lines.
func (s *Service) Quote(ctx context.Context, fieldID uuid.UUID, ranges []domain.TimeRange) (Quote, error) {
	rules, err := s.rules(ctx, fieldID)
	if err != nil {
		return Quote{}, err
	}
	total, err := domain.Quote(rules, ranges)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{FieldID: fieldID, Total: total}
	for _, r := range ranges {
		amount, err := domain.ResolvePrice(rules, r)
		if err != nil {
			return Quote{}, err
		}
		q.Lines = append(q.Lines, Line{Range: r, Amount: amount})
	}
	return q, nil
}

func (s *Service) rules(ctx context.Context, fieldID uuid.UUID) ([]domain.FieldPricing, error) {
	if _, err := s.store.GetField(ctx, fieldID); err != nil {
		return nil, err
	}
	return s.store.ListPricing(ctx, fieldID)
}

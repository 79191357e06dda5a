package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
)

func (r *Repository) CreateField(ctx context.Context, f domain.Field) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fields (id, facility_id, category, name, booking_enabled)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.FacilityID, f.Category, f.Name, f.BookingEnabled)
	return err
}

// SetPricing replaces the pricing tiers of a field after checking they do not overlap.
func (r *Repository) SetPricing(ctx context.Context, fieldID uuid.UUID, rules []domain.FieldPricing) error {
	if err := domain.ValidatePricing(rules); err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM field_pricing WHERE field_id = $1`, fieldID); err != nil {
		return err
	}
	for _, p := range rules {
		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO field_pricing (id, field_id, start_minute, end_minute, price_per_hour)
			VALUES ($1, $2, $3, $4, $5)
		`, id, fieldID, int(p.Range.Start), int(p.Range.End), p.PricePerHour)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) CreateDiscount(ctx context.Context, d domain.Discount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO discounts (id, facility_id, code, percentage, valid_from, valid_to, remaining)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.FacilityID, d.Code, d.Percentage, d.ValidFrom, d.ValidTo, d.Remaining)
	return err
}

func (r *Repository) CreateService(ctx context.Context, s domain.FacilityService) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO facility_services (id, facility_id, name, unit_price)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.FacilityID, s.Name, s.UnitPrice)
	return err
}

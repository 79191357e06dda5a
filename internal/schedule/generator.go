package schedule

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/store"
)

type Invalidator interface {
	Invalidate(ctx context.Context, fieldID uuid.UUID)
}

// Generator fills the calendar ahead of time with AVAILABLE slots of a fixed length
// laid out inside each pricing tier of a field.
type Generator struct {
	store     store.Store
	cache     Invalidator
	length    domain.TimeOfDay
	daysAhead int
	loc       *time.Location
	now       func() time.Time
	logger    observability.Logger
}

func NewGenerator(s store.Store, cache Invalidator, slotLength time.Duration, daysAhead int, loc *time.Location, now func() time.Time, logger observability.Logger) *Generator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		store:     s,
		cache:     cache,
		length:    domain.TimeOfDay(slotLength / time.Minute),
		daysAhead: daysAhead,
		loc:       loc,
		now:       now,
		logger:    logger,
	}
}

// Generate creates the missing slots of fieldID for days dates starting at from. A
// candidate overlapping any non-cancelled slot, or starting in the past, is skipped,
// so running it again creates nothing.
func (g *Generator) Generate(ctx context.Context, fieldID uuid.UUID, from time.Time, days int) (int64, error) {
	if g.length <= 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "slot length must be positive")
	}
	if days <= 0 {
		return 0, nil
	}
	from = domain.DateOf(from)
	to := from.AddDate(0, 0, days-1)
	now := g.now()

	field, err := g.store.GetField(ctx, fieldID)
	if err != nil {
		return 0, err
	}
	if !field.BookingEnabled {
		return 0, nil
	}
	rules, err := g.store.ListPricing(ctx, fieldID)
	if err != nil {
		return 0, err
	}

	var created int64
	err = g.store.WithTx(ctx, func(tx store.Tx) error {
		created = 0
		existing, err := tx.ListSlots(ctx, fieldID, from, to)
		if err != nil {
			return err
		}
		byDate := make(map[string][]domain.TimeRange)
		for _, s := range existing {
			if s.Status.Occupies() {
				k := domain.FormatDate(s.Date)
				byDate[k] = append(byDate[k], s.Range)
			}
		}

		var fresh []domain.Slot
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			taken := byDate[domain.FormatDate(d)]
			for _, r := range g.candidates(rules) {
				if !domain.At(d, r.Start, g.loc).After(now) || overlapsAny(r, taken) {
					continue
				}
				taken = append(taken, r)
				fresh = append(fresh, domain.Slot{
					ID:      uuid.New(),
					FieldID: fieldID,
					Date:    d,
					Range:   r,
					Status:  domain.SlotAvailable,
				})
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		created, err = tx.InsertSlots(ctx, fresh)
		return err
	})
	if err != nil {
		return 0, errors.Wrapf(err, "generate slots for field %s", fieldID)
	}
	if created > 0 {
		observability.SlotsGenerated.Add(float64(created))
		if g.cache != nil {
			g.cache.Invalidate(ctx, fieldID)
		}
	}
	return created, nil
}

// GenerateAll runs Generate for every bookable field from today on.
func (g *Generator) GenerateAll(ctx context.Context) (int64, error) {
	fields, err := g.store.ListBookableFields(ctx)
	if err != nil {
		return 0, err
	}
	today, _ := domain.Clock(g.now(), g.loc)
	var total int64
	for _, f := range fields {
		n, err := g.Generate(ctx, f.ID, today, g.daysAhead)
		if err != nil {
			g.logger.WithError(err).WithField("field_id", f.ID).Warn("slot generation failed")
			continue
		}
		total += n
	}
	return total, nil
}

func (g *Generator) candidates(rules []domain.FieldPricing) []domain.TimeRange {
	var out []domain.TimeRange
	for _, p := range rules {
		for start := p.Range.Start; start+g.length <= p.Range.End; start += g.length {
			out = append(out, domain.TimeRange{Start: start, End: start + g.length})
		}
	}
	domain.SortRanges(out)
	return out
}

func overlapsAny(r domain.TimeRange, taken []domain.TimeRange) bool {
	for _, t := range taken {
		if r.Overlaps(t) {
			return true
		}
	}
	return false
}

package domain

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// ResolvePrice prices r against hourly pricing rules. A rule fully containing r wins,
// the shortest such rule when several do. Otherwise r is split at rule boundaries and
// each piece is charged pro rata at the most specific rule covering it.
func ResolvePrice(rules []FieldPricing, r TimeRange) (decimal.Decimal, error) {
	units, err := rateMinutes(rules, r)
	if err != nil {
		return decimal.Zero, err
	}
	return units.Div(minutesPerHour), nil
}

// Quote sums the price of several ranges, dividing only once at the end.
func Quote(rules []FieldPricing, ranges []TimeRange) (decimal.Decimal, error) {
	if len(ranges) == 0 {
		return decimal.Zero, errors.Wrap(ErrInvalidInput, "no time ranges to price")
	}
	total := decimal.Zero
	for _, r := range ranges {
		units, err := rateMinutes(rules, r)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(units)
	}
	return total.Div(minutesPerHour), nil
}

// rateMinutes returns the sum of price-per-hour times minutes over r.
func rateMinutes(rules []FieldPricing, r TimeRange) (decimal.Decimal, error) {
	if err := r.Validate(); err != nil {
		return decimal.Zero, err
	}
	if rule, ok := mostSpecific(rules, func(p FieldPricing) bool { return p.Range.Contains(r) }); ok {
		return rule.PricePerHour.Mul(decimal.NewFromInt(int64(r.Minutes()))), nil
	}

	acc := decimal.Zero
	cursor := r.Start
	for cursor < r.End {
		at := cursor
		rule, ok := mostSpecific(rules, func(p FieldPricing) bool {
			return p.Range.Start <= at && at < p.Range.End
		})
		if !ok {
			return decimal.Zero, errors.Wrapf(ErrNoPricingConfigured, "no pricing for %s at %s", r, cursor)
		}
		end := min(r.End, rule.Range.End)
		for _, p := range rules {
			if p.Range.Start > cursor && p.Range.Start < end && p.Range.Minutes() < rule.Range.Minutes() {
				end = p.Range.Start
			}
		}
		acc = acc.Add(rule.PricePerHour.Mul(decimal.NewFromInt(int64(end - cursor))))
		cursor = end
	}
	return acc, nil
}

func mostSpecific(rules []FieldPricing, match func(FieldPricing) bool) (FieldPricing, bool) {
	var candidates []FieldPricing
	for _, p := range rules {
		if match(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return FieldPricing{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Range.Minutes() != b.Range.Minutes() {
			return a.Range.Minutes() < b.Range.Minutes()
		}
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		return a.ID.String() < b.ID.String()
	})
	return candidates[0], true
}

// ValidatePricing enforces that tiers of one field do not overlap.
func ValidatePricing(rules []FieldPricing) error {
	sorted := append([]FieldPricing(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Range.Start < sorted[j].Range.Start })
	for i, p := range sorted {
		if err := p.Range.Validate(); err != nil {
			return err
		}
		if !p.PricePerHour.IsPositive() {
			return errors.Wrapf(ErrInvalidInput, "pricing %s: price must be positive", p.Range)
		}
		if i > 0 && p.Range.Overlaps(sorted[i-1].Range) {
			return errors.Wrapf(ErrInvalidInput, "pricing %s overlaps %s", p.Range, sorted[i-1].Range)
		}
	}
	return nil
}

// DisplayAmount rounds an amount to whole currency units for presentation.
func DisplayAmount(d decimal.Decimal) string {
	return d.Round(0).StringFixed(0)
}

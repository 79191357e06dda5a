package domain

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Availability struct {
	Available bool
	// Slots are the schedule rows backing the requested ranges, ordered by start.
	Slots     []Slot
	Conflicts []Conflict
}

func (a Availability) SlotIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(a.Slots))
	for i, s := range a.Slots {
		ids[i] = s.ID
	}
	return ids
}

// CheckAvailability matches requested ranges against the slots of one field and date.
// Every requested range must be fully covered by AVAILABLE slots, start and end on
// slot boundaries, and no two requested ranges may overlap. Overlapping persisted slots are reported as ErrFatal.
func CheckAvailability(slots []Slot, requested []TimeRange) (Availability, error) {
	if len(requested) == 0 {
		return Availability{}, errors.Wrap(ErrInvalidInput, "no time ranges requested")
	}
	for _, r := range requested {
		if err := r.Validate(); err != nil {
			return Availability{}, err
		}
	}

	active, err := activeSlots(slots)
	if err != nil {
		return Availability{}, err
	}

	var res Availability
	reqs := append([]TimeRange(nil), requested...)
	SortRanges(reqs)
	for i := 1; i < len(reqs); i++ {
		if reqs[i].Start < reqs[i-1].End {
			res.Conflicts = append(res.Conflicts, Conflict{Range: reqs[i], Reason: ReasonRequestOverlaps})
		}
	}

	seen := make(map[uuid.UUID]bool)
	for _, r := range reqs {
		cursor := r.Start
		for _, s := range active {
			if !s.Range.Overlaps(r) {
				continue
			}
			if s.Range.Start > cursor {
				res.Conflicts = append(res.Conflicts, Conflict{
					Range:  TimeRange{Start: cursor, End: s.Range.Start},
					Reason: ReasonNotScheduled,
				})
			}
			if s.Range.End > cursor {
				cursor = s.Range.End
			}
			if s.Status != SlotAvailable {
				ref, status := s.Ref(), s.Status
				res.Conflicts = append(res.Conflicts, Conflict{
					Range:  r,
					Slot:   &ref,
					Status: &status,
					Reason: ReasonUnavailable,
				})
				continue
			}
			if s.Range.Start < r.Start || s.Range.End > r.End {
				ref := s.Ref()
				res.Conflicts = append(res.Conflicts, Conflict{
					Range:  r,
					Slot:   &ref,
					Reason: ReasonMisaligned,
				})
				continue
			}
			if !seen[s.ID] {
				seen[s.ID] = true
				res.Slots = append(res.Slots, s)
			}
		}
		if cursor < r.End {
			res.Conflicts = append(res.Conflicts, Conflict{
				Range:  TimeRange{Start: cursor, End: r.End},
				Reason: ReasonNotScheduled,
			})
		}
	}

	res.Available = len(res.Conflicts) == 0
	if !res.Available {
		res.Slots = nil
	}
	return res, nil
}

// activeSlots returns the non-cancelled slots ordered by start and verifies that
// none of them overlap.
func activeSlots(slots []Slot) ([]Slot, error) {
	active := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Status.Occupies() {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Range.Start < active[j].Range.Start
	})
	for i := 1; i < len(active); i++ {
		prev, cur := active[i-1], active[i]
		if cur.Range.Overlaps(prev.Range) {
			return nil, errors.Wrapf(ErrFatal, "slots %s (%s) and %s (%s) overlap on field %s",
				prev.ID, prev.Range, cur.ID, cur.Range, cur.FieldID)
		}
	}
	return active, nil
}

// Err is nil when available and a *ConflictError otherwise.
func (a Availability) Err() error {
	if a.Available {
		return nil
	}
	return &ConflictError{Conflicts: a.Conflicts}
}

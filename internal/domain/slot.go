package domain

import (
	"github.com/cockroachdb/errors"
)

var slotTransitions = map[SlotStatus][]SlotStatus{
	SlotAvailable: {SlotPending, SlotExpired},
	SlotPending:   {SlotBooked, SlotAvailable},
	SlotBooked:    {SlotCancelled, SlotCompleted},
}

func CanTransition(from, to SlotStatus) bool {
	for _, s := range slotTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to SlotStatus) error {
	if !CanTransition(from, to) {
		return errors.Wrapf(ErrInvalidTransition, "slot %s -> %s", from, to)
	}
	return nil
}

// Occupies reports whether the slot takes part in the non-overlap invariant.
func (s SlotStatus) Occupies() bool {
	return s != SlotCancelled
}

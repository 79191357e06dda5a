package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrSlotConflict         = errors.New("slot conflict")
	ErrInvalidDiscount      = errors.New("invalid discount")
	ErrNoPricingConfigured  = errors.New("no pricing configured")
	ErrTransient            = errors.New("transient failure")
	ErrFatal                = errors.New("data corruption")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrForbidden            = errors.New("forbidden")
)

// Conflict explains why one requested range cannot be booked. Slot is nil when the
// range is not backed by any schedule row or clashes with another requested range.
type Conflict struct {
	Range  TimeRange   `json:"range"`
	Slot   *SlotRef    `json:"slot,omitempty"`
	Status *SlotStatus `json:"status,omitempty"`
	Reason string      `json:"reason"`
}

const (
	ReasonUnavailable     = "slot_unavailable"
	ReasonNotScheduled    = "not_scheduled"
	ReasonRequestOverlaps = "requested_ranges_overlap"
	ReasonMisaligned      = "misaligned"
)

type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Range, c.Reason))
	}
	return "slot conflict: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TimeOfDay is minutes after midnight, in [0, 1440].
type TimeOfDay int

const MinutesPerDay TimeOfDay = 24 * 60

const dateLayout = "2006-01-02"

const clockLayout = "15:04"

// ParseTimeOfDay accepts "HH:MM", with "24:00" as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil || len(s) != len(clockLayout) {
		return 0, errors.Wrapf(ErrInvalidInput, "time of day %q", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

// TimeRange is the half-open interval [Start, End) within one day.
type TimeRange struct {
	Start TimeOfDay
	End   TimeOfDay
}

func NewTimeRange(start, end TimeOfDay) (TimeRange, error) {
	r := TimeRange{Start: start, End: end}
	return r, r.Validate()
}

// ParseTimeRange accepts "HH:MM-HH:MM".
func ParseTimeRange(s string) (TimeRange, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return TimeRange{}, errors.Wrapf(ErrInvalidInput, "time range %q", s)
	}
	st, err := ParseTimeOfDay(strings.TrimSpace(start))
	if err != nil {
		return TimeRange{}, err
	}
	en, err := ParseTimeOfDay(strings.TrimSpace(end))
	if err != nil {
		return TimeRange{}, err
	}
	return NewTimeRange(st, en)
}

func (r TimeRange) Validate() error {
	if r.Start < 0 || r.End > MinutesPerDay || r.Start >= r.End {
		return errors.Wrapf(ErrInvalidInput, "time range %s", r)
	}
	return nil
}

func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

func (r TimeRange) Minutes() int {
	return int(r.End - r.Start)
}

// Overlaps reports whether the half-open ranges intersect; adjacent ranges do not.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r TimeRange) Contains(o TimeRange) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{r.Start.String(), r.End.String()})
}

func (r *TimeRange) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseTimeOfDay(raw.Start)
	if err != nil {
		return err
	}
	en, err := ParseTimeOfDay(raw.End)
	if err != nil {
		return err
	}
	*r = TimeRange{Start: st, End: en}
	return nil
}

func SortRanges(rs []TimeRange) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start != rs[j].Start {
			return rs[i].Start < rs[j].Start
		}
		return rs[i].End < rs[j].End
	})
}

// DateOf truncates t to its calendar day in t's location and returns that day at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidInput, "date %q", s)
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// At places a time of day on a calendar day in loc.
func At(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(t.Duration())
}

// Clock splits an instant into the facility's calendar day and minute of day.
func Clock(now time.Time, loc *time.Location) (time.Time, TimeOfDay) {
	local := now.In(loc)
	return DateOf(local), TimeOfDay(local.Hour()*60 + local.Minute())
}

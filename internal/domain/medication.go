package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Medication is a read-only view of a user's medication and its schedule.
type Medication struct {
	ID        string
	UserID    string
	Name      string
	Dosage    string
	Schedule  ScheduleDefinition
	Channel   ChannelType
	Recipient string
	Active    bool
	CreatedAt time.Time
}

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// MinutesPerDay is the exclusive upper bound of TimeOfDay.
const MinutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from hours and minutes.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("time of day %q: invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time of day %q: invalid minute", s)
	}
	return NewTimeOfDay(hour, minute), nil
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the concrete instant of t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ScheduleKind names a schedule variant.
type ScheduleKind string

const (
	ScheduleKindFixedTime ScheduleKind = "fixed_time"
	ScheduleKindInterval  ScheduleKind = "interval"
	ScheduleKindMeal      ScheduleKind = "meal_based"
	ScheduleKindCyclic    ScheduleKind = "cyclic"
)

// Schedule is implemented only by the schedule variants in this package.
type Schedule interface {
	Kind() ScheduleKind
	isSchedule()
}

// FixedTimeSchedule fires at fixed times of day.
type FixedTimeSchedule struct {
	Times []TimeOfDay
}

// IntervalSchedule fires every IntervalHours starting at Anchor.
type IntervalSchedule struct {
	IntervalHours int
	Anchor        *TimeOfDay
}

// Meal names a meal a dose can be anchored to.
type Meal string

const (
	MealBreakfast Meal = "breakfast"
	MealLunch     Meal = "lunch"
	MealDinner    Meal = "dinner"
)

// MealRelation places a dose before or after a meal.
type MealRelation string

const (
	MealRelationBefore MealRelation = "before"
	MealRelationAfter  MealRelation = "after"
)

// MealSchedule fires OffsetMinutes before or after a meal.
type MealSchedule struct {
	Meal          Meal
	Relation      MealRelation
	OffsetMinutes int
}

// CyclicSchedule fires on Times during OnDays, then pauses for OffDays.
type CyclicSchedule struct {
	OnDays    int
	OffDays   int
	StartDate time.Time
	Times     []TimeOfDay
}

func (FixedTimeSchedule) Kind() ScheduleKind { return ScheduleKindFixedTime }
func (IntervalSchedule) Kind() ScheduleKind  { return ScheduleKindInterval }
func (MealSchedule) Kind() ScheduleKind      { return ScheduleKindMeal }
func (CyclicSchedule) Kind() ScheduleKind    { return ScheduleKindCyclic }

func (FixedTimeSchedule) isSchedule() {}
func (IntervalSchedule) isSchedule()  {}
func (MealSchedule) isSchedule()      {}
func (CyclicSchedule) isSchedule()    {}

// ScheduleDefinition is the stored/wire form of a schedule.
// Only the fields of the selected Type are meaningful.
type ScheduleDefinition struct {
	Type          ScheduleKind `json:"type"`
	Times         []string     `json:"times,omitempty"`
	IntervalHours *int         `json:"interval_hours,omitempty"`
	Anchor        string       `json:"anchor,omitempty"`
	Meal          Meal         `json:"meal,omitempty"`
	Relation      MealRelation `json:"relation,omitempty"`
	OffsetMinutes *int         `json:"offset_minutes,omitempty"`
	OnDays        *int         `json:"on_days,omitempty"`
	OffDays       *int         `json:"off_days,omitempty"`
	StartDate     string       `json:"start_date,omitempty"`
}

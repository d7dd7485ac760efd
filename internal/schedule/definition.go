package schedule

import (
	"time"

	"github.com/bissquit/pillbox/internal/domain"
)

// DateLayout is the layout of cyclic schedule start dates.
const DateLayout = "2006-01-02"

// FromDefinition converts a stored schedule definition into its typed variant.
// Missing fields for the selected variant produce a ValidationError naming the field.
func FromDefinition(def domain.ScheduleDefinition) (domain.Schedule, error) {
	switch def.Type {
	case domain.ScheduleKindFixedTime:
		times, err := parseTimes(def.Times)
		if err != nil {
			return nil, err
		}
		return domain.FixedTimeSchedule{Times: times}, nil

	case domain.ScheduleKindInterval:
		if def.IntervalHours == nil {
			return nil, missing("interval_hours")
		}
		s := domain.IntervalSchedule{IntervalHours: *def.IntervalHours}
		if def.Anchor != "" {
			anchor, err := domain.ParseTimeOfDay(def.Anchor)
			if err != nil {
				return nil, invalid("anchor", "%v", err)
			}
			s.Anchor = &anchor
		}
		return s, nil

	case domain.ScheduleKindMeal:
		if def.Meal == "" {
			return nil, missing("meal")
		}
		if def.Relation == "" {
			return nil, missing("relation")
		}
		s := domain.MealSchedule{Meal: def.Meal, Relation: def.Relation}
		if def.OffsetMinutes != nil {
			s.OffsetMinutes = *def.OffsetMinutes
		}
		return s, nil

	case domain.ScheduleKindCyclic:
		if def.OnDays == nil {
			return nil, missing("on_days")
		}
		if def.OffDays == nil {
			return nil, missing("off_days")
		}
		if def.StartDate == "" {
			return nil, missing("start_date")
		}
		start, err := time.Parse(DateLayout, def.StartDate)
		if err != nil {
			return nil, invalid("start_date", "must be formatted as %s", DateLayout)
		}
		times, err := parseTimes(def.Times)
		if err != nil {
			return nil, err
		}
		return domain.CyclicSchedule{
			OnDays:    *def.OnDays,
			OffDays:   *def.OffDays,
			StartDate: start,
			Times:     times,
		}, nil

	case "":
		return nil, missing("type")

	default:
		return nil, invalid("type", "%q is not a known schedule type", def.Type)
	}
}

func parseTimes(raw []string) ([]domain.TimeOfDay, error) {
	if len(raw) == 0 {
		return nil, missing("times")
	}
	times := make([]domain.TimeOfDay, 0, len(raw))
	for _, s := range raw {
		t, err := domain.ParseTimeOfDay(s)
		if err != nil {
			return nil, invalid("times", "%v", err)
		}
		times = append(times, t)
	}
	return times, nil
}

// Package schedule resolves medication schedules into concrete dose times
// and detects doses of different medications that are too close together.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
)

// ConflictTypeTimeProximity marks two doses closer than the minimum gap.
const ConflictTypeTimeProximity = "time_proximity"

// Conflict describes two doses of different medications scheduled too close together.
type Conflict struct {
	MedicationA string    `json:"medication_a"`
	MedicationB string    `json:"medication_b"`
	Type        string    `json:"type"`
	Detail      string    `json:"detail"`
	CandidateAt time.Time `json:"candidate_at"`
	ConflictsAt time.Time `json:"conflicts_at"`
}

// Policy contains evaluator limits.
type Policy struct {
	MinIntervalHours int
	MinGap           time.Duration
	DefaultAnchor    domain.TimeOfDay
	// GapOverrides replaces MinGap for pairs involving the given schedule kind.
	// When both kinds have an override the larger one applies.
	GapOverrides map[domain.ScheduleKind]time.Duration
}

// DefaultPolicy returns default evaluator limits.
func DefaultPolicy() Policy {
	return Policy{
		MinIntervalHours: 4,
		MinGap:           30 * time.Minute,
		DefaultAnchor:    domain.NewTimeOfDay(8, 0),
	}
}

// Evaluator resolves schedules. It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	policy Policy
	meals  MealTimes
}

// NewEvaluator creates a new Evaluator. meals may be nil, in which case
// DefaultMealTimes is used.
func NewEvaluator(policy Policy, meals MealTimes) *Evaluator {
	if meals == nil {
		meals = DefaultMealTimes()
	}
	return &Evaluator{policy: policy, meals: meals}
}

// Resolve returns the ordered dose times of s on the calendar day of day.
func (e *Evaluator) Resolve(ctx context.Context, userID string, s domain.Schedule, day time.Time) ([]time.Time, error) {
	switch v := s.(type) {
	case domain.FixedTimeSchedule:
		return resolveFixed(v.Times, day)
	case domain.IntervalSchedule:
		return e.resolveInterval(v, day)
	case domain.MealSchedule:
		return e.resolveMeal(ctx, userID, v, day)
	case domain.CyclicSchedule:
		return resolveCyclic(v, day)
	case nil:
		return nil, missing("type")
	default:
		return nil, invalid("type", "%q is not a known schedule type", s.Kind())
	}
}

// ResolveMedication parses the medication's schedule definition and resolves it for day.
func (e *Evaluator) ResolveMedication(ctx context.Context, med domain.Medication, day time.Time) ([]time.Time, error) {
	s, err := FromDefinition(med.Schedule)
	if err != nil {
		return nil, err
	}
	return e.Resolve(ctx, med.UserID, s, day)
}

// Occurrences returns every dose of med in the half-open window [from, to).
func (e *Evaluator) Occurrences(ctx context.Context, med domain.Medication, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for day := startOfDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		times, err := e.ResolveMedication(ctx, med, day)
		if err != nil {
			return nil, err
		}
		for _, t := range times {
			if !t.Before(from) && t.Before(to) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// DetectConflicts compares the candidate's doses on referenceDate with those of every
// other active medication in existing. One Conflict is emitted per close pair, in the
// order existing was supplied.
func (e *Evaluator) DetectConflicts(ctx context.Context, candidate domain.Medication, existing []domain.Medication, referenceDate time.Time) ([]Conflict, error) {
	candTimes, err := e.ResolveMedication(ctx, candidate, referenceDate)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, other := range existing {
		if !other.Active {
			continue
		}
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}

		otherTimes, err := e.ResolveMedication(ctx, other, referenceDate)
		if err != nil {
			return nil, fmt.Errorf("resolve medication %s: %w", other.ID, err)
		}

		gap := e.policy.gapFor(candidate.Schedule.Type, other.Schedule.Type)
		for _, a := range candTimes {
			for _, b := range otherTimes {
				if absDuration(a.Sub(b)) >= gap {
					continue
				}
				conflicts = append(conflicts, Conflict{
					MedicationA: candidate.ID,
					MedicationB: other.ID,
					Type:        ConflictTypeTimeProximity,
					Detail: fmt.Sprintf("dose at %s is within %s of %s dose at %s",
						a.Format("15:04"), gap, displayName(other), b.Format("15:04")),
					CandidateAt: a,
					ConflictsAt: b,
				})
			}
		}
	}
	return conflicts, nil
}

func (p Policy) gapFor(a, b domain.ScheduleKind) time.Duration {
	gap := p.MinGap
	oa, okA := p.GapOverrides[a]
	ob, okB := p.GapOverrides[b]
	switch {
	case okA && okB:
		gap = max(oa, ob)
	case okA:
		gap = oa
	case okB:
		gap = ob
	}
	return gap
}

func resolveFixed(times []domain.TimeOfDay, day time.Time) ([]time.Time, error) {
	if len(times) == 0 {
		return nil, missing("times")
	}
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		if t < 0 || t >= domain.MinutesPerDay {
			return nil, invalid("times", "%d minutes is outside a day", int(t))
		}
		out = append(out, t.On(day))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (e *Evaluator) resolveInterval(s domain.IntervalSchedule, day time.Time) ([]time.Time, error) {
	if s.IntervalHours < e.policy.MinIntervalHours {
		return nil, invalid("interval_hours",
			"must be at least %d hours (minimum interval policy), got %d",
			e.policy.MinIntervalHours, s.IntervalHours)
	}

	anchor := e.policy.DefaultAnchor
	if s.Anchor != nil {
		anchor = *s.Anchor
	}
	if anchor < 0 || anchor >= domain.MinutesPerDay {
		return nil, invalid("anchor", "%d minutes is outside a day", int(anchor))
	}

	step := max(s.IntervalHours, 1) * 60
	out := make([]time.Time, 0, 24/max(s.IntervalHours, 1))
	for m := int(anchor); m < domain.MinutesPerDay; m += step {
		out = append(out, domain.TimeOfDay(m).On(day))
	}
	return out, nil
}

func (e *Evaluator) resolveMeal(ctx context.Context, userID string, s domain.MealSchedule, day time.Time) ([]time.Time, error) {
	if s.Meal == "" {
		return nil, missing("meal")
	}
	if s.OffsetMinutes < 0 {
		return nil, invalid("offset_minutes", "must not be negative")
	}

	var sign int
	switch s.Relation {
	case domain.MealRelationBefore:
		sign = -1
	case domain.MealRelationAfter:
		sign = 1
	case "":
		return nil, missing("relation")
	default:
		return nil, invalid("relation", "%q must be before or after", s.Relation)
	}

	mealTime, err := e.meals.MealTime(ctx, userID, s.Meal)
	if err != nil {
		if errors.Is(err, ErrUnknownMeal) {
			return nil, invalid("meal", "%q has no configured time", s.Meal)
		}
		return nil, fmt.Errorf("lookup meal time: %w", err)
	}

	at := mealTime.On(day).Add(time.Duration(sign*s.OffsetMinutes) * time.Minute)
	return []time.Time{at}, nil
}

func resolveCyclic(s domain.CyclicSchedule, day time.Time) ([]time.Time, error) {
	if s.OnDays < 1 {
		return nil, invalid("on_days", "must be at least 1")
	}
	if s.OffDays < 0 {
		return nil, invalid("off_days", "must not be negative")
	}
	if s.StartDate.IsZero() {
		return nil, missing("start_date")
	}
	if len(s.Times) == 0 {
		return nil, missing("times")
	}

	elapsed := daysBetween(s.StartDate, day)
	if elapsed < 0 || elapsed%(s.OnDays+s.OffDays) >= s.OnDays {
		return []time.Time{}, nil
	}
	return resolveFixed(s.Times, day)
}

// daysBetween counts calendar days from a to b, ignoring clock time and zone offsets.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func displayName(m domain.Medication) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

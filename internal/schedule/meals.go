package schedule

import (
	"context"

	"github.com/bissquit/pillbox/internal/domain"
)

// MealTimes resolves when a user eats a given meal.
type MealTimes interface {
	MealTime(ctx context.Context, userID string, meal domain.Meal) (domain.TimeOfDay, error)
}

// StaticMealTimes serves the same meal times to every user.
type StaticMealTimes map[domain.Meal]domain.TimeOfDay

// DefaultMealTimes returns the meal times used when a user has none configured.
func DefaultMealTimes() StaticMealTimes {
	return StaticMealTimes{
		domain.MealBreakfast: domain.NewTimeOfDay(8, 0),
		domain.MealLunch:     domain.NewTimeOfDay(13, 0),
		domain.MealDinner:    domain.NewTimeOfDay(19, 0),
	}
}

// MealTime implements MealTimes.
func (m StaticMealTimes) MealTime(_ context.Context, _ string, meal domain.Meal) (domain.TimeOfDay, error) {
	t, ok := m[meal]
	if !ok {
		return 0, ErrUnknownMeal
	}
	return t, nil
}

// Package postgres provides PostgreSQL implementation of the medications repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/medications"
	"github.com/bissquit/pillbox/internal/schedule"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ medications.Repository = (*Repository)(nil)
	_ schedule.MealTimes     = (*Repository)(nil)
)

const medicationColumns = `id, user_id, name, dosage, schedule, channel, recipient, active, created_at`

// Repository implements medications.Repository and schedule.MealTimes using PostgreSQL.
type Repository struct {
	db       *pgxpool.Pool
	fallback schedule.MealTimes
}

// NewRepository creates a new PostgreSQL repository. Users without stored meal
// times get schedule.DefaultMealTimes.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, fallback: schedule.DefaultMealTimes()}
}

// ListActiveMedications returns all active medications.
func (r *Repository) ListActiveMedications(ctx context.Context) ([]domain.Medication, error) {
	query := `SELECT ` + medicationColumns + `
		FROM medications
		WHERE active
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active medications: %w", err)
	}
	return collectMedications(rows)
}

// ListUserMedications returns all medications of a user, active or not.
func (r *Repository) ListUserMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	query := `SELECT ` + medicationColumns + `
		FROM medications
		WHERE user_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user medications: %w", err)
	}
	return collectMedications(rows)
}

// GetMedication retrieves a medication by ID.
func (r *Repository) GetMedication(ctx context.Context, id string) (*domain.Medication, error) {
	query := `SELECT ` + medicationColumns + `
		FROM medications
		WHERE id::text = $1
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}

	meds, err := collectMedications(rows)
	if err != nil {
		return nil, err
	}
	if len(meds) == 0 {
		return nil, medications.ErrMedicationNotFound
	}
	return &meds[0], nil
}

// MealTime implements schedule.MealTimes.
func (r *Repository) MealTime(ctx context.Context, userID string, meal domain.Meal) (domain.TimeOfDay, error) {
	query := `
		SELECT minute_of_day
		FROM meal_times
		WHERE user_id = $1 AND meal = $2
	`
	var minutes int
	err := r.db.QueryRow(ctx, query, userID, meal).Scan(&minutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.fallback.MealTime(ctx, userID, meal)
		}
		return 0, fmt.Errorf("get meal time: %w", err)
	}
	return domain.TimeOfDay(minutes), nil
}

func collectMedications(rows pgx.Rows) ([]domain.Medication, error) {
	defer rows.Close()

	meds := make([]domain.Medication, 0)
	for rows.Next() {
		var (
			m      domain.Medication
			rawDef []byte
		)
		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.Name,
			&m.Dosage,
			&rawDef,
			&m.Channel,
			&m.Recipient,
			&m.Active,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		// A broken definition is kept as is; the evaluator reports it when resolved.
		if err := json.Unmarshal(rawDef, &m.Schedule); err != nil {
			m.Schedule = domain.ScheduleDefinition{}
		}
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medications: %w", err)
	}

	return meds, nil
}

//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/medications"
	pgconn "github.com/bissquit/pillbox/internal/pkg/postgres"
	"github.com/bissquit/pillbox/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx, "../../../migrations")
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	testDB, err = pgconn.Connect(ctx, pgconn.Config{
		URL:             container.ConnectionString,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func insertMedication(t *testing.T, userID, name, schedule string, active bool) string {
	t.Helper()
	var id string
	err := testDB.QueryRow(context.Background(), `
		INSERT INTO medications (user_id, name, dosage, schedule, channel, recipient, active)
		VALUES ($1, $2, '5mg', $3::jsonb, 'email', 'user@example.com', $4)
		RETURNING id::text
	`, userID, name, schedule, active).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestRepository_ListAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	activeID := insertMedication(t, "user-list", "Aspirin", `{"type":"fixed_time","times":["08:00","20:00"]}`, true)
	insertMedication(t, "user-list", "Paused", `{"type":"interval","interval_hours":6}`, false)

	userMeds, err := repo.ListUserMedications(ctx, "user-list")
	require.NoError(t, err)
	require.Len(t, userMeds, 2)
	assert.Equal(t, "Aspirin", userMeds[0].Name)
	assert.Equal(t, domain.ScheduleKindFixedTime, userMeds[0].Schedule.Type)
	assert.Equal(t, []string{"08:00", "20:00"}, userMeds[0].Schedule.Times)
	assert.Equal(t, domain.ChannelTypeEmail, userMeds[0].Channel)
	require.NotNil(t, userMeds[1].Schedule.IntervalHours)
	assert.Equal(t, 6, *userMeds[1].Schedule.IntervalHours)

	active, err := repo.ListActiveMedications(ctx)
	require.NoError(t, err)
	for _, m := range active {
		assert.True(t, m.Active)
	}

	med, err := repo.GetMedication(ctx, activeID)
	require.NoError(t, err)
	assert.Equal(t, "user-list", med.UserID)
	assert.Equal(t, "5mg", med.Dosage)

	_, err = repo.GetMedication(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, medications.ErrMedicationNotFound)
}

func TestRepository_MealTime(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testDB)

	_, err := testDB.Exec(ctx, `INSERT INTO meal_times (user_id, meal, minute_of_day) VALUES ('user-meal', 'breakfast', 450)`)
	require.NoError(t, err)

	got, err := repo.MealTime(ctx, "user-meal", domain.MealBreakfast)
	require.NoError(t, err)
	assert.Equal(t, domain.NewTimeOfDay(7, 30), got)

	got, err = repo.MealTime(ctx, "user-meal", domain.MealDinner)
	require.NoError(t, err)
	assert.Equal(t, domain.NewTimeOfDay(19, 0), got, "missing rows fall back to default meal times")
}

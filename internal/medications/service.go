// Package medications exposes read-only medication data and schedule queries.
package medications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/schedule"
)

// Module errors.
var (
	ErrMedicationNotFound = errors.New("medication not found")
)

// Repository is the read-only medication store.
type Repository interface {
	ListActiveMedications(ctx context.Context) ([]domain.Medication, error)
	ListUserMedications(ctx context.Context, userID string) ([]domain.Medication, error)
	GetMedication(ctx context.Context, id string) (*domain.Medication, error)
}

// Service answers schedule questions about a user's medications.
type Service struct {
	repo      Repository
	evaluator *schedule.Evaluator
}

// NewService creates a new medications service.
func NewService(repo Repository, evaluator *schedule.Evaluator) *Service {
	return &Service{repo: repo, evaluator: evaluator}
}

// ListActiveMedications returns every active medication. It feeds the reminder planner.
func (s *Service) ListActiveMedications(ctx context.Context) ([]domain.Medication, error) {
	return s.repo.ListActiveMedications(ctx)
}

// ListUserMedications returns the medications of userID.
func (s *Service) ListUserMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	return s.repo.ListUserMedications(ctx, userID)
}

// Doses resolves the dose times of one of userID's medications on day.
// A medication owned by someone else is reported as not found.
func (s *Service) Doses(ctx context.Context, userID, medicationID string, day time.Time) ([]time.Time, error) {
	med, err := s.repo.GetMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	if med.UserID != userID {
		return nil, ErrMedicationNotFound
	}
	return s.evaluator.ResolveMedication(ctx, *med, day)
}

// CheckConflicts compares candidate with userID's active medications on referenceDate.
func (s *Service) CheckConflicts(ctx context.Context, userID string, candidate domain.Medication, referenceDate time.Time) ([]schedule.Conflict, error) {
	existing, err := s.repo.ListUserMedications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user medications: %w", err)
	}

	candidate.UserID = userID
	candidate.Active = true
	return s.evaluator.DetectConflicts(ctx, candidate, existing, referenceDate)
}

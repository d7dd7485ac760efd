// Package reminders turns medication schedules into queued reminder notifications.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/bissquit/pillbox/internal/pkg/ctxlog"
	"github.com/bissquit/pillbox/internal/schedule"
)

// Config holds planner configuration.
type Config struct {
	PlanInterval time.Duration `koanf:"plan_interval"`
	// Lookahead is how far ahead of now doses are queued.
	Lookahead time.Duration `koanf:"lookahead"`
	// DedupTTL must outlive Lookahead so a dose is never planned twice.
	DedupTTL time.Duration `koanf:"dedup_ttl"`
	// Location is the zone doses are resolved in. Nil means time.Local.
	Location *time.Location `koanf:"-"`
}

// DefaultConfig returns default planner configuration.
func DefaultConfig() Config {
	return Config{
		PlanInterval: time.Minute,
		Lookahead:    15 * time.Minute,
		DedupTTL:     48 * time.Hour,
	}
}

// MedicationSource lists medications that should produce reminders.
type MedicationSource interface {
	ListActiveMedications(ctx context.Context) ([]domain.Medication, error)
}

// Enqueuer accepts notifications for delivery.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, input notifications.EnqueueInput, scheduleAt *time.Time) (*notifications.QueueEntry, error)
}

// Deduper remembers which doses were already planned.
type Deduper interface {
	// Acquire returns true the first time key is seen within ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a later pass can plan it again.
	Release(ctx context.Context, key string) error
}

// Planner periodically queues reminders for upcoming doses.
type Planner struct {
	config    Config
	meds      MedicationSource
	evaluator *schedule.Evaluator
	enqueuer  Enqueuer
	deduper   Deduper
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPlanner creates a new planner.
func NewPlanner(config Config, meds MedicationSource, evaluator *schedule.Evaluator, enqueuer Enqueuer, deduper Deduper) *Planner {
	defaults := DefaultConfig()
	if config.PlanInterval <= 0 {
		config.PlanInterval = defaults.PlanInterval
	}
	if config.Lookahead <= 0 {
		config.Lookahead = defaults.Lookahead
	}
	if config.DedupTTL <= 0 {
		config.DedupTTL = defaults.DedupTTL
	}

	now := time.Now
	if loc := config.Location; loc != nil {
		now = func() time.Time { return time.Now().In(loc) }
	}

	return &Planner{
		config:    config,
		meds:      meds,
		evaluator: evaluator,
		enqueuer:  enqueuer,
		deduper:   deduper,
		now:       now,
	}
}

// Start starts the planning loop. Calling Start on a running planner is a no-op.
func (p *Planner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	slog.Info("starting reminder planner",
		"plan_interval", p.config.PlanInterval,
		"lookahead", p.config.Lookahead,
	)

	p.wg.Add(1)
	go p.run(ctx, p.stopCh)
}

// Stop stops the planning loop and waits for the current pass to finish.
func (p *Planner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("reminder planner stopped")
}

func (p *Planner) run(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PlanInterval)
	defer ticker.Stop()

	for {
		if _, err := p.PlanOnce(ctx); err != nil {
			slog.Error("reminder planning failed", "error", err)
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PlanOnce queues every dose in [now, now+Lookahead] not planned before and
// returns how many reminders were queued. A broken medication never stops the pass.
func (p *Planner) PlanOnce(ctx context.Context) (int, error) {
	meds, err := p.meds.ListActiveMedications(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active medications: %w", err)
	}

	from := p.now()
	to := from.Add(p.config.Lookahead)

	planned := 0
	for _, med := range meds {
		medCtx, logger := ctxlog.With(ctx, "medication_id", med.ID, "user_id", med.UserID)

		doses, err := p.evaluator.Occurrences(medCtx, med, from, to)
		if err != nil {
			if errors.Is(err, schedule.ErrInvalidSchedule) {
				recordPlanned(resultInvalidSchedule)
				logger.Warn("skipping medication with invalid schedule", "error", err)
			} else {
				recordPlanned(resultFailed)
				logger.Error("resolve medication schedule", "error", err)
			}
			continue
		}

		for _, dose := range doses {
			ok, err := p.planDose(medCtx, med, dose)
			if err != nil {
				recordPlanned(resultFailed)
				logger.Error("plan reminder", "dose_at", dose, "error", err)
				continue
			}
			if ok {
				recordPlanned(resultEnqueued)
				planned++
			} else {
				recordPlanned(resultDuplicate)
			}
		}
	}

	if planned > 0 {
		slog.Info("reminders planned", "count", planned, "medications", len(meds))
	}
	return planned, nil
}

func (p *Planner) planDose(ctx context.Context, med domain.Medication, dose time.Time) (bool, error) {
	key := DoseKey(med.ID, dose)

	acquired, err := p.deduper.Acquire(ctx, key, p.config.DedupTTL)
	if err != nil {
		return false, fmt.Errorf("acquire dose key: %w", err)
	}
	if !acquired {
		return false, nil
	}

	at := dose
	if _, err := p.enqueuer.EnqueueNotification(ctx, ReminderInput(med, dose), &at); err != nil {
		if releaseErr := p.deduper.Release(ctx, key); releaseErr != nil {
			ctxlog.FromContext(ctx).Warn("release dose key", "key", key, "error", releaseErr)
		}
		return false, err
	}
	return true, nil
}

// DoseKey identifies one dose of one medication.
func DoseKey(medicationID string, dose time.Time) string {
	return medicationID + ":" + dose.UTC().Format(time.RFC3339)
}

// ReminderInput builds the notification for a single dose.
func ReminderInput(med domain.Medication, dose time.Time) notifications.EnqueueInput {
	channel := med.Channel
	if channel == "" {
		channel = domain.ChannelTypeInApp
	}

	message := fmt.Sprintf("It's time to take your %s.", med.Name)
	if med.Dosage != "" {
		message = fmt.Sprintf("It's time to take %s of %s.", med.Dosage, med.Name)
	}

	return notifications.EnqueueInput{
		UserID:    med.UserID,
		Type:      domain.NotificationTypeMedicationReminder,
		Title:     "Time for " + med.Name,
		Message:   message,
		Channel:   channel,
		Recipient: med.Recipient,
		Metadata: map[string]string{
			domain.MetaMedicationID:   med.ID,
			domain.MetaMedicationName: med.Name,
			domain.MetaDosage:         med.Dosage,
			domain.MetaDoseAt:         dose.Format(time.RFC3339),
		},
	}
}

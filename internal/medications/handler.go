package medications

import (
	"net/http"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/pkg/httputil"
	"github.com/bissquit/pillbox/internal/schedule"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrMedicationNotFound, Status: http.StatusNotFound},
	{Error: schedule.ErrInvalidSchedule, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the medications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
	location  *time.Location
}

// NewHandler creates a new medications handler. Dates without a zone are read in loc.
func NewHandler(service *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		service:   service,
		validator: httputil.NewValidator(),
		location:  loc,
	}
}

// RegisterUserRoutes registers routes for the authenticated user.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Get("/me/medications", h.ListMine)
	r.Get("/me/medications/{id}/doses", h.GetDoses)
	r.Post("/me/medications/conflicts", h.CheckConflicts)
}

// MedicationResponse is the API view of a medication.
type MedicationResponse struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Dosage    string                    `json:"dosage,omitempty"`
	Schedule  domain.ScheduleDefinition `json:"schedule"`
	Channel   domain.ChannelType        `json:"channel"`
	Active    bool                      `json:"active"`
	CreatedAt time.Time                 `json:"created_at"`
}

// DosesResponse lists resolved dose times for one day.
type DosesResponse struct {
	MedicationID string      `json:"medication_id"`
	Date         string      `json:"date"`
	Doses        []time.Time `json:"doses"`
}

// ConflictCheckRequest describes a medication the user is about to add.
type ConflictCheckRequest struct {
	Name     string                    `json:"name" validate:"required,max=200"`
	Schedule domain.ScheduleDefinition `json:"schedule"`
	Date     string                    `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ListMine handles GET /me/medications.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.ListUserMedications(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	out := make([]MedicationResponse, 0, len(meds))
	for _, m := range meds {
		out = append(out, MedicationResponse{
			ID:        m.ID,
			Name:      m.Name,
			Dosage:    m.Dosage,
			Schedule:  m.Schedule,
			Channel:   m.Channel,
			Active:    m.Active,
			CreatedAt: m.CreatedAt,
		})
	}
	httputil.Success(w, http.StatusOK, out)
}

// GetDoses handles GET /me/medications/{id}/doses?date=YYYY-MM-DD.
func (h *Handler) GetDoses(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	doses, err := h.service.Doses(r.Context(), httputil.GetUserID(r.Context()), id, day)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if doses == nil {
		doses = []time.Time{}
	}
	httputil.Success(w, http.StatusOK, DosesResponse{
		MedicationID: id,
		Date:         day.Format(dateLayout),
		Doses:        doses,
	})
}

// CheckConflicts handles POST /me/medications/conflicts.
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictCheckRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	day, ok := h.parseDate(w, req.Date)
	if !ok {
		return
	}

	conflicts, err := h.service.CheckConflicts(r.Context(), httputil.GetUserID(r.Context()), domain.Medication{
		Name:     req.Name,
		Schedule: req.Schedule,
	}, day)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if conflicts == nil {
		conflicts = []schedule.Conflict{}
	}
	httputil.Success(w, http.StatusOK, conflicts)
}

// parseDate reads YYYY-MM-DD in the handler location; empty means today.
func (h *Handler) parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		now := time.Now().In(h.location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.location), true
	}

	day, err := time.ParseInLocation(dateLayout, raw, h.location)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

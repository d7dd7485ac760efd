package notifications

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidNotification, Status: http.StatusBadRequest},
	{Error: ErrQueueUnavailable, Status: http.StatusServiceUnavailable, Message: "notification queue unavailable", RetryAfter: 5 * time.Second},
	{Error: ErrBroadcastDisabled, Status: http.StatusServiceUnavailable, Message: "broadcast is not available"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: httputil.NewValidator(),
	}
}

// RegisterPublicRoutes registers routes that need no authentication.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/notifications/channels", h.GetChannels)
}

// RegisterOperatorRoutes registers producer and queue management routes (operator+).
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/notifications", h.Enqueue)
	r.Get("/notifications/queue/stats", h.GetQueueStats)
	r.Get("/notifications/dead-letter", h.ListDeadLetter)
	r.Post("/notifications/dead-letter/replay", h.ReplayDeadLetter)
}

// RegisterAdminRoutes registers admin-only routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/notifications/broadcast", h.Broadcast)
}

// EnqueueRequest represents request body for queueing a notification.
type EnqueueRequest struct {
	UserID       string            `json:"user_id" validate:"required,max=128"`
	Type         string            `json:"type" validate:"omitempty,oneof=medication_reminder missed_dose refill_reminder system"`
	Title        string            `json:"title" validate:"required,max=200"`
	Message      string            `json:"message" validate:"required,max=2000"`
	Channel      string            `json:"channel" validate:"required,oneof=in_app email telegram sms push"`
	Recipient    string            `json:"recipient" validate:"max=320"`
	Metadata     map[string]string `json:"metadata"`
	ScheduledFor *time.Time        `json:"scheduled_for"`
}

// EnqueueResponse is returned once a notification is queued.
type EnqueueResponse struct {
	ID           string     `json:"id"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// BroadcastRequest represents request body for a system broadcast.
type BroadcastRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
}

// Enqueue handles POST /notifications.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	entry, err := h.service.EnqueueNotification(r.Context(), EnqueueInput{
		UserID:    req.UserID,
		Type:      domain.NotificationType(req.Type),
		Title:     req.Title,
		Message:   req.Message,
		Channel:   domain.ChannelType(req.Channel),
		Recipient: req.Recipient,
		Metadata:  req.Metadata,
	}, req.ScheduledFor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, EnqueueResponse{
		ID:           entry.ID,
		ScheduledFor: entry.ScheduledFor,
	})
}

// GetQueueStats handles GET /notifications/queue/stats.
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetQueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// ListDeadLetter handles GET /notifications/dead-letter.
func (h *Handler) ListDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	entries, err := h.service.ListDeadLetter(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if entries == nil {
		entries = []DeadLetterEntry{}
	}
	httputil.Success(w, http.StatusOK, entries)
}

// ReplayDeadLetter handles POST /notifications/dead-letter/replay.
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ReplayDeadLetter(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"replayed": n})
}

// Broadcast handles POST /notifications/broadcast.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := h.service.Broadcast(r.Context(), req.Title, req.Message)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"delivered": n})
}

// GetChannels handles GET /notifications/channels.
func (h *Handler) GetChannels(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]any{
		"available_channels": h.service.AvailableChannels(),
	})
}

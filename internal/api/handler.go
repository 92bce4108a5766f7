package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/metrics"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/redis"
)

// NotificationRepository defines the interface for notification database operations
type NotificationRepository interface {
	Create(ctx context.Context, notif *db.Notification) error
	Get(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListByUser(ctx context.Context, userID, typeFilter string, limit, offset int) ([]*db.Notification, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	Release(ctx context.Context, id uuid.UUID, prevStatus string, nextRetryTime *time.Time) error
}

// QueuePublisher enqueues notifications for asynchronous delivery.
type QueuePublisher interface {
	Enqueue(ctx context.Context, notif *db.Notification) (string, error)
}

// InboxReader lists recently delivered in-app notifications for a user.
type InboxReader interface {
	List(ctx context.Context, userID string, limit int) ([]redis.InboxEntry, error)
}

// NotificationRequest represents the incoming request body
type NotificationRequest struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Contact string `json:"contact,omitempty"`
}

// NotificationResponse is returned after creating a notification
type NotificationResponse struct {
	ID string `json:"id"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        NotificationRepository
	producer    QueuePublisher
	idempotency *redis.IdempotencyService // nil if Redis not configured
	inbox       InboxReader               // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo NotificationRepository, producer QueuePublisher) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		producer: producer,
	}
}

// NewHandlerWithRedis creates a handler with idempotency and inbox support
func NewHandlerWithRedis(logger *zap.Logger, repo NotificationRepository, producer QueuePublisher, idempotency *redis.IdempotencyService, inbox InboxReader) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		producer:    producer,
		idempotency: idempotency,
		inbox:       inbox,
	}
}

// CreateNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Extract Idempotency-Key header (optional but recommended)
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req NotificationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	// Validate required fields
	if req.UserID == "" || req.Type == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, type, and message are required")
		return
	}

	if !db.ValidType(req.Type) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "type must be email, sms, or in_app")
		return
	}

	// Contact is carried through to delivery; email and sms cannot be
	// delivered without one, so reject early instead of burning a queue trip.
	if req.Contact == "" && req.Type != db.TypeInApp {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing contact", "contact is required for email and sms notifications")
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, req.UserID, idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			resp := NotificationResponse{ID: cachedResult.NotificationID}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
	}

	notif := &db.Notification{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Type:       req.Type,
		Message:    req.Message,
		Contact:    req.Contact,
		Status:     db.StatusPending,
		RetryCount: 0,
		MaxRetries: db.DefaultMaxRetries,
	}

	if err := h.repo.Create(ctx, notif); err != nil {
		h.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("type", req.Type),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}

	metrics.RecordAccepted(notif.Type)
	h.logger.Info("notification created",
		zap.String("id", notif.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("type", req.Type),
	)

	// Store idempotency result
	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			NotificationID: notif.ID.String(),
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.UserID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	// Enqueue for asynchronous delivery. The record stays pending on failure;
	// the stale-pending sweep republishes it once the grace period passes.
	msgID, err := h.producer.Enqueue(ctx, notif)
	if err != nil {
		metrics.RecordQueuePublishFailure()
		h.logger.Error("failed to enqueue notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue notification", "")
		return
	}

	h.logger.Info("notification enqueued",
		zap.String("notification_id", notif.ID.String()),
		zap.String("queue_message_id", msgID),
	)

	resp := NotificationResponse{
		ID: notif.ID.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")

	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	notif, err := h.repo.Get(ctx, notifID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(notif)
}

// ListUserNotifications handles GET /v1/users/{user_id}/notifications?type=email&limit=20&offset=0
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id path parameter is required")
		return
	}

	typeFilter := r.URL.Query().Get("type")
	if typeFilter != "" && !db.ValidType(typeFilter) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type filter", "type must be email, sms, or in_app")
		return
	}

	limit, offset := parsePagination(r)

	notifications, err := h.repo.ListByUser(ctx, userID, typeFilter, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	h.logger.Info("notifications listed",
		zap.String("user_id", userID),
		zap.String("type_filter", typeFilter),
		zap.Int("count", len(notifications)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// GetInbox handles GET /v1/users/{user_id}/inbox?limit=20
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id path parameter is required")
		return
	}

	if h.inbox == nil {
		h.writeError(w, http.StatusServiceUnavailable, "inbox_unavailable", "Inbox not configured", "")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := h.inbox.List(ctx, userID, limit)
	if err != nil {
		h.logger.Error("failed to read inbox",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "inbox_error", "Failed to read inbox", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  entries,
		"count": len(entries),
	})
}

// RetryNotification handles POST /v1/notifications/{id}/retry.
// Resets the retry budget and republishes the notification for a fresh
// delivery cycle. Intended for operators reviving dead-lettered records.
func (h *Handler) RetryNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	notif, err := h.repo.ResetForRetry(ctx, notifID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to reset notification for retry",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to retry notification", "")
		return
	}

	msgID, err := h.producer.Enqueue(ctx, notif)
	if err != nil {
		metrics.RecordQueuePublishFailure()
		h.logger.Error("failed to enqueue retried notification",
			zap.Error(err),
			zap.String("notification_id", idStr),
		)
		// Park the record as due immediately so the scheduler republishes it.
		now := time.Now().UTC()
		if relErr := h.repo.Release(ctx, notifID, db.StatusRetryScheduled, &now); relErr != nil {
			h.logger.Error("failed to park retried notification for scheduler",
				zap.Error(relErr),
				zap.String("notification_id", idStr),
			)
		}
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue notification for retry", "")
		return
	}

	h.logger.Info("notification manually retried",
		zap.String("notification_id", idStr),
		zap.String("queue_message_id", msgID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": notif.Status,
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

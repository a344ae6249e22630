package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vehicleinfo/internal/platform/middleware"
	"vehicleinfo/internal/vehicle/models"
	dErrors "vehicleinfo/pkg/domain-errors"
	"vehicleinfo/pkg/platform/httputil"
)

// Service defines the listing operation the handler serves.
type Service interface {
	List(ctx context.Context, q models.ListQuery) (*models.VehiclePage, error)
}

// Handler serves the vehicle listing endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a vehicle Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the listing with and without the trailing slash.
func (h *Handler) Register(r chi.Router) {
	r.Get("/vehicles", h.handleList)
	r.Get("/vehicles/", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid vehicle list parameters",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.List(ctx, q)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeBadRequest):
			h.logger.WarnContext(ctx, "invalid vehicle list parameters",
				"request_id", requestID,
				"error", err.Error(),
			)
		default:
			h.logger.ErrorContext(ctx, "failed to list vehicles",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromPage(page))
}

package authz

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lattice-hq/lattice/internal/platform/httpx"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Handler exposes the decision engine over HTTP.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers decision endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/check-batch", h.checkBatch)
	r.Get("/users/{userID}/permissions", h.effectivePermissions)
}

type checkRequest struct {
	UserID        int64  `json:"userId" validate:"required"`
	PermissionKey string `json:"permissionKey" validate:"required"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("decode request: %v", err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%v", err))
		return
	}
	decision, err := h.engine.Check(r.Context(), req.UserID, req.PermissionKey)
	if err != nil {
		h.logger.Error("check permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

type checkBatchRequest struct {
	UserID         int64    `json:"userId" validate:"required"`
	PermissionKeys []string `json:"permissionKeys" validate:"required,min=1,dive,required"`
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req checkBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("decode request: %v", err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%v", err))
		return
	}
	results, err := h.engine.CheckBatch(r.Context(), req.UserID, req.PermissionKeys)
	if err != nil {
		h.logger.Error("check permission batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid user id"))
		return
	}
	perms, err := h.engine.EffectivePermissions(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

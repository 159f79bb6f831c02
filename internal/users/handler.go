package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.showUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit))
		r.Post("/", h.createUser)
		r.Put("/{id}", h.updateUser)
		r.Put("/{id}/role", h.assignRole)
		r.Put("/{id}/permissions", h.grantPermissions)
		r.Delete("/{id}", h.softDelete)
		r.Post("/{id}/restore", h.restore)
		r.Delete("/{id}/force", h.forceDelete)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var (
		list []User
		err  error
	)
	switch r.URL.Query().Get("scope") {
	case "trashed":
		list, err = h.service.ListTrashed(r.Context())
	case "all":
		list, err = h.service.ListAll(r.Context())
	case "", "active":
		list, err = h.service.ListActive(r.Context())
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope must be active, trashed or all")
		return
	}
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !h.decode(w, r, &input) {
		return
	}
	u, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdateInput
	if !h.decode(w, r, &input) {
		return
	}
	u, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input AssignRoleInput
	if !h.decode(w, r, &input) {
		return
	}
	u, err := h.service.AssignRole(r.Context(), id, input.RoleID)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) grantPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input GrantInput
	if !h.decode(w, r, &input) {
		return
	}
	u, err := h.service.GrantPermissions(r.Context(), id, input.PermissionIDs)
	if err != nil {
		h.fail(w, "grant permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "soft delete user", h.service.SoftDelete)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "restore user", h.service.Restore)
}

func (h *Handler) forceDelete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "force delete user", h.service.ForceDelete)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) error) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsDomainError(err) && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

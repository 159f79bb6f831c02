package menu

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Handler manages menu editor and navigation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	builder   *Builder
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, builder *Builder, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, builder: builder, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers menu editor routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermMenuView, shared.PermMenuEdit))
		r.Get("/", h.listFlat)
		r.Get("/tree", h.tree)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMenuEdit))
		r.Post("/", h.create)
		r.Put("/reorder", h.reorder)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

// Navigation renders the menu visible to the session user. Guests receive
// an empty list; a session whose user no longer exists gets 401.
func (h *Handler) Navigation(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.JSON(w, http.StatusOK, []*Node{})
		return
	}
	grants, err := h.rbac.GrantsFor(r.Context(), userID)
	if errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if err != nil {
		h.fail(w, "resolve grants", err)
		return
	}
	nodes, err := h.builder.BuildWithGrants(r.Context(), grants)
	if err != nil {
		h.fail(w, "build navigation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) listFlat(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.AllFlat(r.Context())
	if err != nil {
		h.fail(w, "list menu", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.service.RootsWithChildren(r.Context())
	if err != nil {
		h.fail(w, "menu tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roots)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	node, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get menu node", err)
		return
	}
	httpx.JSON(w, http.StatusOK, node)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input Input
	if !h.decode(w, r, &input) {
		return
	}
	node, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create menu node", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, node)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input Input
	if !h.decode(w, r, &input) {
		return
	}
	node, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update menu node", err)
		return
	}
	httpx.JSON(w, http.StatusOK, node)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete menu node", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var input ReorderInput
	if !h.decode(w, r, &input) {
		return
	}
	if err := h.service.Reorder(r.Context(), input.Tree); err != nil {
		h.fail(w, "reorder menu", err)
		return
	}
	roots, err := h.service.RootsWithChildren(r.Context())
	if err != nil {
		h.fail(w, "menu tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roots)
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

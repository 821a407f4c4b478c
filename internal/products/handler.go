package products

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kinbay/kinbay/internal/platform/httpx"
	"github.com/kinbay/kinbay/internal/shared"
)

// Handler exposes catalogue endpoints as JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	requireUser httpx.Middleware
	validator   *validator.Validate
}

// NewHandler constructs a Handler. requireUser must reject anonymous callers.
func NewHandler(logger *slog.Logger, service *Service, requireUser httpx.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, requireUser: requireUser, validator: validator.New()}
}

// MountRoutes registers product routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listAvailable)
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Get("/mine", h.listMine)
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	r.Get("/{id}", h.show)
}

// MountCategoryRoutes registers category routes.
func (h *Handler) MountCategoryRoutes(r chi.Router) {
	r.Get("/", h.listCategories)
	r.With(h.requireUser).Post("/", h.createCategory)
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAvailable(r.Context())
	if err != nil {
		h.fail(w, "list available products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListByOwner(r.Context(), userID)
	if err != nil {
		h.fail(w, "list own products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	categoryIDs, err := parseIDs(req.CategoryIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	p, err := h.service.Create(r.Context(), userID, CreateInput{
		Name:        req.Name,
		Description: req.Description,
		PriceBuy:    req.PriceBuy,
		PriceRent:   req.PriceRent,
		RentOption:  req.RentOption,
		CategoryIDs: categoryIDs,
	})
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateProductRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		PriceBuy:    req.PriceBuy,
		PriceRent:   req.PriceRent,
		RentOption:  req.RentOption,
	}
	if req.CategoryIDs != nil {
		ids, err := parseIDs(*req.CategoryIDs)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.CategoryIDs = &ids
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	p, err := h.service.Update(r.Context(), userID, id, in)
	if err != nil {
		h.fail(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		h.fail(w, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := httpx.ParseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

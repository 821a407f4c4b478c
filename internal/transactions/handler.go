package transactions

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/platform/httpx"
	"github.com/kinbay/kinbay/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

// Handler exposes the transaction lifecycle over JSON.
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

// MountRoutes registers transaction routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.requireUser)
	r.Post("/buy", h.buy)
	r.Post("/rent", h.rent)
	r.Get("/mine", h.listMine)
	r.Get("/pending", h.listPending)
	r.Get("/{id}", h.show)
	r.Post("/{id}/complete", h.complete)
}

// MountAvailabilityRoutes registers the public availability check under a
// product router.
func (h *Handler) MountAvailabilityRoutes(r chi.Router) {
	r.Get("/{id}/availability", h.checkAvailability)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, err := httpx.ParseDate(r.URL.Query().Get("startDate"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := httpx.ParseDate(r.URL.Query().Get("endDate"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	verdict, err := h.service.CheckAvailability(r.Context(), productID, start, end)
	if err != nil {
		h.fail(w, "check availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, verdict)
}

func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.ParseID(req.ProductID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.create(w, r, CreateInput{ProductID: productID, Type: domain.TransactionBuy, Price: *req.Price})
}

func (h *Handler) rent(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.ParseID(req.ProductID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, err := httpx.ParseDate(req.StartDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := httpx.ParseDate(req.EndDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.create(w, r, CreateInput{ProductID: productID, Type: domain.TransactionRent, Price: *req.Price, StartDate: start, EndDate: end})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, in CreateInput) {
	in.UserID, _ = shared.UserIDFromContext(r.Context())
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(idempotencyHeader))
	t, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	t, err := h.service.Complete(r.Context(), userID, id)
	if err != nil {
		h.fail(w, "complete transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	t, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	parts, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, "list user transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, parts)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListPendingForOwner(r.Context(), userID)
	if err != nil {
		h.fail(w, "list pending transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

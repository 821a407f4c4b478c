package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kinbay/kinbay/internal/platform/httpx"
	"github.com/kinbay/kinbay/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	requireUser httpx.Middleware
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, requireUser httpx.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		requireUser: requireUser,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Get("/me", h.me)
		r.Patch("/me", h.updateMe)
		r.Post("/logout-all", h.logoutAll)
	})
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Firstname string `json:"firstname" validate:"required,max=100"`
	Lastname  string `json:"lastname" validate:"max=100"`
	Address   string `json:"address" validate:"max=255"`
	Phone     string `json:"phone" validate:"max=32"`
	Password  string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type updateRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Firstname *string `json:"firstname" validate:"omitempty,max=100"`
	Lastname  *string `json:"lastname" validate:"omitempty,max=100"`
	Address   *string `json:"address" validate:"omitempty,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Password  *string `json:"password" validate:"omitempty,min=8"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Address:   req.Address,
		Phone:     req.Phone,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.logger.Info("user logged in", slog.Int64("user_id", session.User.ID))
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.fail(w, "me", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	revoked, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		h.fail(w, "logout all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	user, err := h.service.UpdateProfile(r.Context(), userID, UpdateInput{
		Email:     req.Email,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Address:   req.Address,
		Phone:     req.Phone,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// RequestHandler exposes the stock request workflow over HTTP
type RequestHandler struct {
	service *service.RequestService
	logger  *logger.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(svc *service.RequestService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		service: svc,
		logger:  log.WithComponent("request-handler"),
	}
}

// RegisterRoutes registers the request routes
func (h *RequestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/stock/requests", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/advance", h.Advance)
		r.Post("/{id}/cancel", h.Cancel)
	})
}

// Create handles POST /stock/requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateRequestInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.Create(r.Context(), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, req)
}

// List handles GET /stock/requests
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.RequestFilter{
		Branch: r.URL.Query().Get("branch"),
		Status: r.URL.Query().Get("status"),
	}

	requests, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, requests)
}

// Get handles GET /stock/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Advance handles POST /stock/requests/{id}/advance
func (h *RequestHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var input service.DecisionInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Advance(r.Context(), chi.URLParam(r, "id"), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Cancel handles POST /stock/requests/{id}/cancel
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Notes *string `json:"notes,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), input.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// TransferHandler exposes the transfer dispatch protocol over HTTP
type TransferHandler struct {
	service *service.TransferService
	logger  *logger.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(svc *service.TransferService, log *logger.Logger) *TransferHandler {
	return &TransferHandler{
		service: svc,
		logger:  log.WithComponent("transfer-handler"),
	}
}

// RegisterRoutes registers the transfer routes
func (h *TransferHandler) RegisterRoutes(r chi.Router) {
	r.Route("/stock/transfers", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/dispatch-note", h.GetNote)
		r.Post("/{id}/dispatch", h.Dispatch)
		r.Post("/{id}/deliver", h.Deliver)
		r.Post("/{id}/receive", h.Receive)
		r.Post("/{id}/cancel", h.Cancel)
	})
	r.Get("/stock/dispatch-notes/{barcode}", h.ResolveBarcode)
}

// Create handles POST /stock/transfers
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTransferInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	transfer, err := h.service.Create(r.Context(), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, transfer)
}

// List handles GET /stock/transfers
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.TransferFilter{
		FromWarehouse: r.URL.Query().Get("from"),
		ToBranch:      r.URL.Query().Get("to"),
		Status:        r.URL.Query().Get("status"),
	}

	transfers, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfers)
}

// Get handles GET /stock/transfers/{id}
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfer)
}

// GetNote handles GET /stock/transfers/{id}/dispatch-note
func (h *TransferHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, note)
}

// Dispatch handles POST /stock/transfers/{id}/dispatch
func (h *TransferHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Dispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if result.Applied {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, result)
}

// Deliver handles POST /stock/transfers/{id}/deliver
func (h *TransferHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.service.Deliver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfer)
}

// Receive handles POST /stock/transfers/{id}/receive
func (h *TransferHandler) Receive(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Receive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Cancel handles POST /stock/transfers/{id}/cancel
func (h *TransferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Notes *string `json:"notes,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	transfer, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), input.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfer)
}

// ResolveBarcode handles GET /stock/dispatch-notes/{barcode}
func (h *TransferHandler) ResolveBarcode(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.ResolveBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, note)
}

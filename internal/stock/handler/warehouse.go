package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// WarehouseHandler exposes the inventory ledger over HTTP
type WarehouseHandler struct {
	service *service.LedgerService
	logger  *logger.Logger
}

// NewWarehouseHandler creates a new warehouse handler
func NewWarehouseHandler(svc *service.LedgerService, log *logger.Logger) *WarehouseHandler {
	return &WarehouseHandler{
		service: svc,
		logger:  log.WithComponent("warehouse-handler"),
	}
}

// RegisterRoutes registers the warehouse routes
func (h *WarehouseHandler) RegisterRoutes(r chi.Router) {
	r.Route("/stock/warehouse", func(r chi.Router) {
		r.Get("/{location}/snapshot", h.Snapshot)
		r.Get("/{location}/batches", h.ListBatches)
		r.Get("/{location}/products/{productID}", h.GetRecord)
		r.Get("/{location}/products/{productID}/movements", h.ListMovements)
		r.Get("/{location}/products/{productID}/allocation", h.PreviewAllocation)
		r.Post("/{location}/products/{productID}/adjust", h.Adjust)
		r.Post("/{location}/products/{productID}/reserve", h.Reserve)
		r.Post("/{location}/products/{productID}/release", h.Release)
		r.Put("/{location}/products/{productID}/reorder-level", h.SetReorderLevel)
	})
	r.Route("/stock/batches", func(r chi.Router) {
		r.Post("/", h.IntakeBatch)
		r.Delete("/{id}", h.RemoveBatch)
	})
}

// Snapshot handles GET /stock/warehouse/{location}/snapshot
func (h *WarehouseHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GetSnapshot(r.Context(), chi.URLParam(r, "location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListBatches handles GET /stock/warehouse/{location}/batches
func (h *WarehouseHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(r.Context(), chi.URLParam(r, "location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// GetRecord handles GET /stock/warehouse/{location}/products/{productID}
func (h *WarehouseHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// ListMovements handles GET /stock/warehouse/{location}/products/{productID}/movements
func (h *WarehouseHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movements)
}

// PreviewAllocation handles GET /stock/warehouse/{location}/products/{productID}/allocation
func (h *WarehouseHandler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		httputil.Error(w, validationError("quantity", "must be an integer"))
		return
	}

	plan, err := h.service.PreviewAllocation(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"), qty)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

// Adjust handles POST /stock/warehouse/{location}/products/{productID}/adjust
func (h *WarehouseHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := h.service.Adjust(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"), input.Delta, input.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Reserve handles POST /stock/warehouse/{location}/products/{productID}/reserve
func (h *WarehouseHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Quantity int `json:"quantity"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.Reserve(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"), input.Quantity); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Release handles POST /stock/warehouse/{location}/products/{productID}/release
func (h *WarehouseHandler) Release(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Quantity int `json:"quantity"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.Release(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"), input.Quantity); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// SetReorderLevel handles PUT /stock/warehouse/{location}/products/{productID}/reorder-level
func (h *WarehouseHandler) SetReorderLevel(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ReorderLevel int `json:"reorder_level"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.SetReorderLevel(r.Context(), chi.URLParam(r, "location"), chi.URLParam(r, "productID"), input.ReorderLevel); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// IntakeBatch handles POST /stock/batches
func (h *WarehouseHandler) IntakeBatch(w http.ResponseWriter, r *http.Request) {
	var input service.BatchIntakeInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.service.IntakeBatch(r.Context(), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// RemoveBatch handles DELETE /stock/batches/{id}
func (h *WarehouseHandler) RemoveBatch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := h.service.RemoveBatch(r.Context(), chi.URLParam(r, "id"), force); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

const defaultExpiryWindowDays = 90

// ReportHandler exposes expiry and low stock reports
type ReportHandler struct {
	service *service.LedgerService
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(svc *service.LedgerService, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		service: svc,
		logger:  log.WithComponent("report-handler"),
	}
}

// RegisterRoutes registers the report routes
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/stock/reports", func(r chi.Router) {
		r.Get("/expiring", h.Expiring)
		r.Get("/low-stock", h.LowStock)
	})
}

// Expiring handles GET /stock/reports/expiring
func (h *ReportHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days := defaultExpiryWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, validationError("days", "must be an integer"))
			return
		}
		days = parsed
	}

	batches, err := h.service.GetExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// LowStock handles GET /stock/reports/low-stock
func (h *ReportHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListLowStock(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// validationError builds a single-field validation error.
func validationError(field, message string) error {
	return errors.Validation(map[string]string{field: message})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/service"
)

// AnalyticsHandler serves cross-device analytics.
type AnalyticsHandler struct {
	service *service.AnalyticsService
	logger  *zap.Logger
}

// NewAnalyticsHandler returns handler.
func NewAnalyticsHandler(svc *service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: svc, logger: logger}
}

// Efficiency handles GET /vehicles/{id}/efficiency?from=&to=.
func (h *AnalyticsHandler) Efficiency(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vehicleID := r.PathValue("id")
	ratio, err := h.service.EfficiencyRatio(r.Context(), vehicleID, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.VehicleRatio{VehicleID: vehicleID, Ratio: ratio})
}

// LowEfficiency handles GET /analytics/low-efficiency?threshold=&from=&to=. Matches are
// streamed as JSON lines while the scan runs; a scan error ends the stream with an error line.
func (h *AnalyticsHandler) LowEfficiency(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseFloat(r, "threshold")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	cur := h.service.LowEfficiencyDevices(r.Context(), threshold, start, end)
	defer cur.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for cur.Next() {
		if err := enc.Encode(cur.Item()); err != nil {
			h.logger.Debug("low efficiency client went away", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := cur.Err(); err != nil {
		h.logger.Error("low efficiency scan failed", zap.Error(err))
		_ = enc.Encode(map[string]string{"error": "scan aborted"})
	}
}

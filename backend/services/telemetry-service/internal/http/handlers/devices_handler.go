package handlers

import (
	"net/http"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

// DevicesHandler serves per-device queries.
type DevicesHandler struct {
	service *service.AnalyticsService
}

// NewDevicesHandler returns handler.
func NewDevicesHandler(svc *service.AnalyticsService) *DevicesHandler {
	return &DevicesHandler{service: svc}
}

// Current handles GET /devices/{class}/{id}/current.
func (h *DevicesHandler) Current(w http.ResponseWriter, r *http.Request) {
	class, err := pathClass(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.service.CurrentStatus(r.Context(), class, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Stats handles GET /devices/{class}/{id}/stats?from=&to=&metric=.
func (h *DevicesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	class, err := pathClass(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metric := models.PrimaryMetric(class)
	if m := r.URL.Query().Get("metric"); m != "" {
		metric = models.Metric(m)
	}

	stats, err := h.service.WindowedMetricStats(r.Context(), r.PathValue("id"), class, metric, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":    r.PathValue("id"),
		"device_class": class,
		"metric":       metric,
		"from":         start.UTC(),
		"to":           end.UTC(),
		"stats":        stats,
	})
}

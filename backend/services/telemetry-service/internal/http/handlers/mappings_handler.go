package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/http/middleware"
	"voltlink/backend/services/telemetry-service/internal/service"
)

// MappingsHandler exposes the correlation registry to operators.
type MappingsHandler struct {
	service *service.CorrelationService
	logger  *zap.Logger
}

// NewMappingsHandler returns handler.
func NewMappingsHandler(svc *service.CorrelationService, logger *zap.Logger) *MappingsHandler {
	return &MappingsHandler{service: svc, logger: logger}
}

type mappingRequest struct {
	MeterID   string `json:"meter_id"`
	VehicleID string `json:"vehicle_id"`
}

// Add handles POST /admin/mappings.
func (h *MappingsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	edge, err := h.service.AddMapping(r.Context(), req.MeterID, req.VehicleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(r, "mapping added", req)
	writeJSON(w, http.StatusCreated, edge)
}

// Deactivate handles POST /admin/mappings/deactivate.
func (h *MappingsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.service.Deactivate(r.Context(), req.MeterID, req.VehicleID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(r, "mapping deactivated", req)
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /admin/mappings?vehicle_id=.
func (h *MappingsHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicleID := strings.TrimSpace(r.URL.Query().Get("vehicle_id"))
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}
	edges, err := h.service.ListEdges(r.Context(), vehicleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vehicle_id": vehicleID,
		"edges":      edges,
	})
}

func (h *MappingsHandler) audit(r *http.Request, msg string, req mappingRequest) {
	subject := ""
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	h.logger.Info(msg, zap.String("operator", subject), zap.String("meter_id", req.MeterID), zap.String("vehicle_id", req.VehicleID))
}

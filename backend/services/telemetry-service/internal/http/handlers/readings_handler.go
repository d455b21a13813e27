package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

// ReadingsHandler accepts telemetry over HTTP.
type ReadingsHandler struct {
	service  *service.IngestService
	maxBatch int
	logger   *zap.Logger
}

// NewReadingsHandler returns handler.
func NewReadingsHandler(svc *service.IngestService, maxBatch int, logger *zap.Logger) *ReadingsHandler {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &ReadingsHandler{service: svc, maxBatch: maxBatch, logger: logger}
}

// Ingest handles POST /readings.
func (h *ReadingsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	if err := decodeJSON(w, r, &reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.service.Ingest(r.Context(), reading)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Outcome == models.OutcomeDegraded {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// IngestBatch handles POST /readings/batch. Each reading succeeds or fails on its own.
func (h *ReadingsHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Readings []models.Reading `json:"readings"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(body.Readings) == 0 {
		writeError(w, http.StatusBadRequest, "readings must not be empty")
		return
	}
	if len(body.Readings) > h.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "too many readings in batch")
		return
	}

	result := h.service.IngestBatch(r.Context(), body.Readings)
	if result.Failed > 0 {
		h.logger.Warn("batch had durability failures", zap.Int("failed", result.Failed), zap.Int("size", len(body.Readings)))
	}
	writeJSON(w, http.StatusOK, result)
}

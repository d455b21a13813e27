package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps service errors onto HTTP statuses and stable codes.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrDuplicateReading, http.StatusConflict, "duplicate_reading"},
	{service.ErrValidationRejected, http.StatusBadRequest, "validation_rejected"},
	{service.ErrDurabilityFailure, http.StatusServiceUnavailable, "durability_failure"},
	{service.ErrDeviceUnknown, http.StatusNotFound, "device_unknown"},
	{service.ErrEdgeNotFound, http.StatusNotFound, "edge_not_found"},
	{service.ErrDivisionUndefined, http.StatusUnprocessableEntity, "division_undefined"},
	{service.ErrNoDataInWindow, http.StatusNotFound, "no_data_in_window"},
	{service.ErrNoActiveMapping, http.StatusUnprocessableEntity, "no_active_mapping"},
	{service.ErrAmbiguousMapping, http.StatusConflict, "ambiguous_mapping"},
	{service.ErrDuplicateActiveMapping, http.StatusConflict, "duplicate_active_mapping"},
}

func writeServiceError(w http.ResponseWriter, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, map[string]string{"error": err.Error(), "code": m.code})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "internal"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339Nano, q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339Nano, q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be an RFC 3339 timestamp")
	}
	return start, end, nil
}

func parseFloat(r *http.Request, name string) (float64, error) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

func pathClass(r *http.Request) (models.DeviceClass, error) {
	return models.ParseDeviceClass(r.PathValue("class"))
}

// Package handlers provides the REST API surface of the terminal.
// Every response carries the structured result envelope; errors never
// propagate across this boundary as panics.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/models"
)

// Notifier is the one-way event channel to the presentation layer.
type Notifier interface {
	BroadcastOrderCreated(orderID string, total string)
	BroadcastOrderUpdated(orderID string)
	BroadcastStatusChanged(orderID, status string)
	BroadcastSyncCompleted(processed, failed, conflicts int)
	BroadcastConflictDetected(entityID string, localRevision, remoteRevision int)
}

// writeResult writes the result envelope with the given HTTP status.
func writeResult(w http.ResponseWriter, status int, result models.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

// writeOK writes a successful envelope.
func writeOK(w http.ResponseWriter, data interface{}) {
	writeResult(w, http.StatusOK, models.OK(data))
}

// writeError maps an error to the envelope plus an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrOrderInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrOrderNotFound:
		status = http.StatusNotFound
	case apperrors.ErrPermission:
		status = http.StatusForbidden
	case apperrors.ErrDuplicate:
		status = http.StatusConflict
	case apperrors.ErrSyncConflict:
		status = http.StatusConflict
	case apperrors.ErrInvalidTransition:
		status = http.StatusUnprocessableEntity
	}

	writeResult(w, status, models.Fail(string(code), err.Error()))
}

// writeFail writes a failed envelope with an explicit code.
func writeFail(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeResult(w, status, models.Fail(string(code), message))
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err)
	}
	return nil
}

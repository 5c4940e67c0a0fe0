package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kislikjeka/festpay/pkg/ledgerapi"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ledgerapi.ErrorResponse{Error: message}, statusCode)
}

// respondRejected sends a business rejection with its machine-readable reason
func respondRejected(w http.ResponseWriter, message, reason string, statusCode int) {
	respondJSON(w, ledgerapi.ErrorResponse{Error: message, Reason: reason}, statusCode)
}

// decodeJSON decodes a request body, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

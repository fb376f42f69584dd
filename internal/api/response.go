package api

import (
	"encoding/json"
	"net/http"
)

// baseResponse acknowledges an operation with no data to return.
type baseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// dataResponse wraps a single entity.
type dataResponse struct {
	Success bool `json:"success"`
	Payload any  `json:"payload"`
}

// listResponse wraps a collection.
type listResponse struct {
	Success  bool `json:"success"`
	Payloads any  `json:"payloads"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, baseResponse{Success: true, Message: message})
}

func writePayload(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Payload: payload})
}

func writePayloads(w http.ResponseWriter, payloads any) {
	writeJSON(w, http.StatusOK, listResponse{Success: true, Payloads: payloads})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, baseResponse{Success: false, Message: err.Error()})
}

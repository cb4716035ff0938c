package server

import (
	"encoding/json"
	"net/http"

	"github.com/nevindra/bigcontext"
)

// maxRequestBodyBytes caps a control-endpoint request body. A chunk-process
// start request carries the full document text, so this is generous rather
// than the handful of KB a typical JSON API body needs.
const maxRequestBodyBytes = 64 << 20 // 64MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDomainError maps an error from the engine's domain types to the HTTP
// status code it carries, per the engine's error-handling policy:
// validation failures and not-found both answer 4xx, everything else is an
// unclassified 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *bigcontext.ErrValidation:
		writeError(w, http.StatusBadRequest, e.Error())
	case *bigcontext.ErrNotFound:
		writeError(w, http.StatusNotFound, e.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

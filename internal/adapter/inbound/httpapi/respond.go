package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/donbool/tame/internal/tameerr"
)

// respondJSON writes a JSON response with the given status code and data.
func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorBody is the JSON shape every error response shares.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// respondError maps err to its tameerr.Kind-derived status code, falling
// back to 500 SERVER for errors that were never wrapped.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var te *tameerr.Error
	if errors.As(err, &te) {
		if te.Kind == tameerr.KindServer {
			logger.Error("internal error", "error", te.Message, "details", te.Details)
		}
		respondJSON(w, logger, te.HTTPStatus(), errorBody{Error: te.Message, Kind: string(te.Kind)})
		return
	}
	logger.Error("unclassified error", "error", err)
	respondJSON(w, logger, http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: string(tameerr.KindServer)})
}

// readJSON decodes the request body into v, capped at maxRequestBodySize.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter using Go 1.22+ PathValue.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// asTameErr unwraps err into a *tameerr.Error, if it is one.
func asTameErr(err error) (*tameerr.Error, bool) {
	var te *tameerr.Error
	ok := errors.As(err, &te)
	return te, ok
}

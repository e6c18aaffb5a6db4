package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/beacon-fence-core/internal/fence"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transport-level error codes. Domain failures use the fence codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeFenceError maps a controller error onto its code and HTTP status.
func writeFenceError(w http.ResponseWriter, err error) {
	fe := fence.AsError(err)
	writeError(w, statusForCode(fe.Code), string(fe.Code), fe.Message)
}

func statusForCode(code fence.Code) int {
	switch code {
	case fence.CodeBeaconNotFound:
		return http.StatusNotFound
	case fence.CodeMissingPermission:
		return http.StatusForbidden
	case fence.CodeInvalidBeacon, fence.CodeInvalidArgument:
		return http.StatusBadRequest
	case fence.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

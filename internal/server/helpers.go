package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the wire shape spec.md §6 mandates for every error response:
// {error, code, fixes?}.
type errorBody struct {
	Error string   `json:"error"`
	Code  string   `json:"code"`
	Fixes []string `json:"fixes,omitempty"`
}

// WriteError writes the taxonomy serialization {error, code, fixes?}
// (spec.md §6) for err, choosing a status code from its taxonomy Code
// when err is a *dperrors.Error, or 500 otherwise.
func WriteError(w http.ResponseWriter, err error) {
	dpErr, ok := dperrors.As(err)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error: "Internal server error",
			Code:  "INTERNAL_ERROR",
		})
		return
	}
	WriteJSON(w, statusForCode(dpErr.Code), errorBody{
		Error: dpErr.UserMessage,
		Code:  string(dpErr.Code),
		Fixes: dpErr.Fixes,
	})
}

// statusForCode maps a taxonomy Code to its HTTP status per spec.md §6/§7:
// not-found variants are 404, validation/API-key/invalid-pipeline/
// illegal-transition/duplicate-id variants are 400, and everything else
// is 500.
func statusForCode(code dperrors.Code) int {
	switch code {
	case dperrors.CodePipelineNotFound, dperrors.CodeNotFound:
		return http.StatusNotFound
	case dperrors.CodeValidationError,
		dperrors.CodeInputRequired,
		dperrors.CodeInvalidInputType,
		dperrors.CodeMultipleValidationErrors,
		dperrors.CodeAPIKeyMissing,
		dperrors.CodeAPIKeyInvalid,
		dperrors.CodeInvalidPipeline,
		dperrors.CodeIllegalTransition,
		dperrors.CodeDuplicateID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v. Returns
// false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		http.Error(w, "Request body is required", http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path. For a pattern
// like /executions/{id}, calling PathParam(r, "/executions/", "") extracts
// the {id} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

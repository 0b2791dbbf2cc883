package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// requestError is a problem with the request itself.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(code, msg string) error {
	return &requestError{status: http.StatusBadRequest, code: code, msg: msg}
}

// status maps an error onto an HTTP status and a stable code.
func status(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var re *requestError
	var nf *registry.NotFoundError
	switch {
	case errors.As(err, &re):
		resp.Code = re.code
		return re.status, resp
	case errors.As(err, &nf):
		resp.Code = "layout_not_found"
		resp.Suggestion = nf.Suggestion
		return http.StatusNotFound, resp
	case errors.Is(err, registry.ErrLayoutNotFound):
		resp.Code = "layout_not_found"
		return http.StatusNotFound, resp
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Code = "canceled"
		return http.StatusServiceUnavailable, resp
	}

	switch kind := layout.KindOf(err); kind {
	case 0:
	case layout.KindUnreadable:
		resp.Code = kind.String()
		return http.StatusBadRequest, resp
	default:
		resp.Code = kind.String()
		return http.StatusUnprocessableEntity, resp
	}

	var ime *layout.InvalidMappingError
	if errors.As(err, &ime) {
		resp.Code = layout.KindMalformedMapping.String()
		return http.StatusUnprocessableEntity, resp
	}

	resp.Code = "internal"
	resp.Error = "internal error"
	return http.StatusInternalServerError, resp
}

func writeError(w http.ResponseWriter, err error) {
	code, resp := status(err)
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

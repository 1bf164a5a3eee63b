/*
Package resp writes the JSON envelope every REST endpoint answers with.

Success bodies carry code 0; failures carry the numeric code from the errs
package so clients can branch on the same values they receive over the
websocket error event.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
)

// JSONResponse is the envelope shared by all endpoints.
type JSONResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RespondJSON marshals payload and writes it with the given status.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Failed to encode response", "path", r.URL.Path, "http_status", httpStatus)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(body)
}

// RespondSuccess answers 200 with data in the envelope.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, JSONResponse{Code: 0, Message: "success", Data: data})
}

// RespondError answers with the status and code carried by customErr.
// Server-side failures are logged.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	if customErr.Status >= http.StatusInternalServerError {
		logx.Warn("Request failed",
			"path", r.URL.Path,
			"code", customErr.Code,
			"error", customErr.Error(),
		)
	}

	RespondJSON(w, r, customErr.Status, JSONResponse{Code: customErr.Code, Message: customErr.Message})
}

// RespondErr maps any error onto the envelope. Errors outside the errs
// package surface as ErrUnknown.
func RespondErr(w http.ResponseWriter, r *http.Request, err error) {
	RespondError(w, r, errs.From(err))
}

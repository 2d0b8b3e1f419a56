package httpkit

import (
	"net/http"

	apperrors "renderflow/internal/pkg/errors"
)

// WriteError maps a pipeline error to its HTTP status and writes the standard
// error envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := apperrors.GetHTTPStatus(err)

	msg := err.Error()
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		msg = appErr.Message
	}

	details := map[string]any{}
	for k, v := range apperrors.GetFields(err) {
		details[k] = v
	}
	if len(details) == 0 {
		details = nil
	}

	WriteErr(w, status, string(code), msg, details)
}

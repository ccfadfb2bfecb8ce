package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/haasonsaas/toolrun/internal/responses"
	"github.com/haasonsaas/toolrun/internal/tools"
)

const maxRequestBody = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps domain errors onto HTTP statuses. Anything unrecognized is
// logged and reported as a bare 500.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var validation *tools.ValidationError
	var badRequest *requestError
	switch {
	case errors.As(err, &badRequest):
		writeError(w, http.StatusBadRequest, badRequest.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, tools.ErrNotFound), errors.Is(err, responses.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, tools.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// params is a decoded request body. Form posts and JSON objects decode to the
// same shape so every handler accepts either.
type params map[string]any

func readParams(w http.ResponseWriter, r *http.Request) (params, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		out := params{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, badRequestf("invalid JSON body: %v", err)
		}
		return out, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxRequestBody); err != nil {
			return nil, badRequestf("invalid form body: %v", err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, badRequestf("invalid form body: %v", err)
		}
	}
	out := params{}
	for key, values := range r.PostForm {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out, nil
}

// String returns the value under key as text, or "" when absent.
func (p params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Required returns the trimmed value under key or a 400-mapped error.
func (p params) Required(key string) (string, error) {
	v := strings.TrimSpace(p.String(key))
	if v == "" {
		return "", badRequestf("%s is required", key)
	}
	return v, nil
}

// JSON returns the value under key as raw JSON. A string value is taken to be
// JSON text, matching form posts; any other value is re-encoded.
func (p params) JSON(key string) (json.RawMessage, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return json.RawMessage("{}"), nil
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid([]byte(s)) {
			return nil, badRequestf("%s must be valid JSON", key)
		}
		return json.RawMessage(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, badRequestf("%s must be valid JSON", key)
	}
	return raw, nil
}

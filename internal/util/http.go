package util

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON response with the given status. Responses
// produced by the gateway are never cacheable.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// StatusCapturingResponseWriter records the status and body size written
// through it. The first WriteHeader wins; a Write without one implies 200.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Size       int

	wroteHeader bool
}

// NewStatusCapturingResponseWriter wraps w.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	return &StatusCapturingResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.StatusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.Size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *StatusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

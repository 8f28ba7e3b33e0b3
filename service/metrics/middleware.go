package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records request counts and latencies for every
// request passing through it. Requests are labelled by the mux route
// pattern that matched, falling back to the raw path for unmatched
// requests. A nil collector disables the middleware.
func HTTPMetricsMiddleware(m *Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     200, // Default status code
		}

		next.ServeHTTP(wrapped, r)

		handler := r.Pattern
		if handler == "" {
			handler = r.URL.Path
		}
		m.RecordHTTPRequest(handler, r.Method, wrapped.statusCode, time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and calls the underlying WriteHeader.
func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush forwards to the underlying writer so SSE handlers can stream
// through the middleware.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

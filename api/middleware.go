package api

import (
	"net/http"
	"time"

	"CommissionEngine/api/constants"
	"CommissionEngine/internal/logger"

	"github.com/google/uuid"
)

// responseWriter captures the status code for the access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the progress stream working behind the access log.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get(constants.HeaderForwardedFor); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// accessLog tags every request with an id and logs method, path, status and latency.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(constants.HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(constants.HeaderRequestID, reqID)

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		log := logger.Get()
		ev := log.Info()
		if rw.statusCode >= 500 {
			ev = log.Error()
		} else if rw.statusCode >= 400 {
			ev = log.Warn()
		}
		ev.Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client", extractClientIP(r)).
			Int("status", rw.statusCode).
			Dur("elapsed", time.Since(start)).
			Msg("gateway request")
	})
}

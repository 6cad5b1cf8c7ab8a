package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type requestIDKey struct{}

// maxRequestBodySize caps request bodies at 64 KB.
const maxRequestBodySize = 64 << 10

// requestID returns the ID accessLog attached to ctx.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// accessLog tags the request with an ID (the client's X-Request-ID when it
// sends one), turns a handler panic into a 500 and logs one line per request.
//
// The chi wrapper keeps http.Hijacker, which the websocket upgrade needs.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"panic", p, "path", r.URL.Path, "request_id", id)
				if ww.Status() == 0 {
					writeError(ww, http.StatusInternalServerError, "internal server error")
				}
			}
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", id,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

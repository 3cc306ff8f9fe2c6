package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/version"
)

// requestLogger logs one line per request. Probe and metrics traffic is
// logged at debug.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := s.logger.Info
		if ww.Status() == http.StatusNoContent || r.URL.Path == "/metrics" {
			log = s.logger.Debug
		}
		log("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// recoverProblem converts a handler panic into a 500 problem response.
func (s *Server) recoverProblem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("path", r.URL.Path),
				)
				InternalError(w, "internal server error", r.URL.Path)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// versionHeader stamps every response with the daemon version.
func versionHeader(next http.Handler) http.Handler {
	v := version.Short()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Hubnet-Version", v)
		next.ServeHTTP(w, r)
	})
}

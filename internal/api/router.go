package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

func NewRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/conversations", handler.ProcessTurn)
	mux.HandleFunc("GET /v1/conversations", handler.ListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", handler.GetConversation)
	mux.HandleFunc("DELETE /v1/conversations/{id}", handler.DeleteConversation)
	mux.HandleFunc("POST /v1/search/{type}", handler.Search)
	mux.HandleFunc("GET /healthz", handler.Health)

	return withRequestLog(mux, handler.logger())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLog(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

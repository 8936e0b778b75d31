package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func NewRouter(h *Handlers, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(log))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ingest", h.Ingest).Methods(http.MethodPost)
	api.HandleFunc("/videos", h.ListVideos).Methods(http.MethodGet)
	api.HandleFunc("/videos/{id}", h.RemoveVideo).Methods(http.MethodDelete)
	api.HandleFunc("/chapters", h.ListChapters).Methods(http.MethodGet)

	api.HandleFunc("/qa/ask", h.Ask).Methods(http.MethodPost)
	api.HandleFunc("/qa/followup", h.FollowUp).Methods(http.MethodPost)
	api.HandleFunc("/qa/history/{id}", h.History).Methods(http.MethodGet)

	api.HandleFunc("/summary/video", h.Summarize).Methods(http.MethodPost)

	api.HandleFunc("/quiz/generate", h.GenerateQuiz).Methods(http.MethodPost)
	api.HandleFunc("/quiz/validate", h.ValidateQuiz).Methods(http.MethodPost)
	api.HandleFunc("/quiz/{id}", h.GetQuiz).Methods(http.MethodGet)

	return r
}

func requestLogger(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

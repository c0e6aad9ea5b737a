package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"support-chat-backend/internal/api/middleware"
	"support-chat-backend/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "OPTIONS", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With", "Authorization", "X-Session-Token"},
		ExposedHeaders:   []string{"X-Session-Token", "X-Request-ID"},
		AllowCredentials: true,
	}

	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		errc := make(chan error, 1)

		job := queue.Job{
			Fn: func() error {
				err := f(w, r)
				return err
			},
			Errc: errc,
		}

		s.requestQueueManager.EnqueueJob(job)

		err := <-errc
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				if httpErr.ErrorLog != nil {
					s.logger.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "status", httpErr.StatusCode, "error", httpErr.ErrorLog)
				}
				WriteJSON(w, httpErr.StatusCode, ApiError{Error: httpErr.Message})
			} else {
				s.logger.Error("api: unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
				WriteJSON(w, http.StatusInternalServerError, ApiError{Error: "Internal server error"})
			}
		}
	}

	middlewares := []middleware.Middleware{
		middleware.CORS(corsConfig),
		middleware.Logging(s.logger),
	}

	finalHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		middleware.Chain(baseHandler, authMiddleware...)(w, r)
	}

	return middleware.Chain(finalHandler, middlewares...)
}

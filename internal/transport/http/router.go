package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
	"quiz-client/internal/quizapi"
)

type quizSummary struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	TimeLimitSeconds *int   `json:"timeLimitSeconds,omitempty"`
}

// NewRouter exposes the catalog as JSON and one attempt session per websocket.
func NewRouter(catalog *app.Catalog, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/api/quizzes", func(w http.ResponseWriter, r *http.Request) {
		quizzes, err := catalog.List(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		out := make([]quizSummary, 0, len(quizzes))
		for _, q := range quizzes {
			out = append(out, quizSummary{
				ID:               q.ID,
				Title:            q.Title,
				Description:      q.Description,
				TimeLimitSeconds: q.TimeLimitSeconds,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/api/sessions/{id}", ws.ServeSnapshot)
	r.Get("/quiz/{id}/ws", ws.ServeWS)
	return r
}

func statusFor(err error) int {
	var apiErr *quizapi.APIError
	switch {
	case errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr), errors.Is(err, quizapi.ErrServiceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

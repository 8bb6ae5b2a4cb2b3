package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter wires the handler's endpoints
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.GetHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/board", h.GetBoard)
		r.Get("/stations", h.GetStations)
		r.Put("/station", h.SelectStation)
		r.Get("/routes", h.GetRoutes)
	})

	return r
}

// Serve starts the API server in the background
func Serve(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API: server error")
		}
	}()

	log.Info().Str("addr", addr).Msg("API: listening")
	log.Info().Msg("API: GET /health, GET /api/board, GET /api/stations, PUT /api/station, GET /api/routes")
	return srv
}

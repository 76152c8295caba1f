package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pongarena/tournament-engine/handlers"
	"github.com/pongarena/tournament-engine/middleware"
)

type Handlers struct {
	Tournaments *handlers.TournamentHandler
	Matches     *handlers.MatchHandler
	WebSocket   *handlers.WebSocketHandler
	Health      *handlers.HealthHandler
	Metrics     http.Handler
}

type Options struct {
	Auth             *middleware.Authenticator
	GameServiceToken string
	AllowedOrigins   []string
}

func SetupRoutes(router *chi.Mux, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.ServiceTokenHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", h.Health.Health)
	if h.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(15 * time.Second))

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/", h.Tournaments.ListTournaments)
			r.Get("/{tournamentID}", h.Tournaments.GetTournament)
			r.Get("/{tournamentID}/player-amount", h.Tournaments.GetPlayerAmount)
			r.Get("/{tournamentID}/bracket", h.Tournaments.GetBracket)

			r.Group(func(r chi.Router) {
				r.Use(opts.Auth.Authenticate)

				r.Post("/", h.Tournaments.CreateTournament)
				r.Post("/{tournamentID}/join", h.Tournaments.JoinTournament)
				r.Post("/{tournamentID}/leave", h.Tournaments.LeaveTournament)
				r.Post("/{tournamentID}/ready", h.Tournaments.MarkReady)
				r.Get("/{tournamentID}/participant", h.Tournaments.CheckParticipant)
			})
		})

		r.Get("/users/{userID}/match-history", h.Matches.GetMatchHistory)
	})

	router.Route("/internal", func(r chi.Router) {
		r.Use(middleware.RequireServiceToken(opts.GameServiceToken))
		r.Post("/tournaments/{tournamentID}/results", h.Matches.ReportResult)
	})

	router.Route("/ws", func(r chi.Router) {
		r.Get("/tournaments/{tournamentID}", h.WebSocket.ServeTournament)
		r.With(opts.Auth.Authenticate).Get("/me", h.WebSocket.ServeUser)
	})
}

package handlers

import (
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		// public routes
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.resolver.TokenAuth()))
			r.Use(jwtauth.Authenticator)

			r.Get("/stats", h.Stats)

			r.Route("/games", func(r chi.Router) {
				r.Get("/", h.ListAllGames)
				r.Post("/", h.CreateGame)

				r.Route("/{gameID}", func(r chi.Router) {
					r.Get("/", h.GetGame)
					r.Get("/state", h.GetGameState)
					r.Get("/life-changes", h.GetLifeChanges)
					r.Post("/join", h.JoinGame)
					r.Post("/leave", h.LeaveGame)
					r.Post("/life", h.UpdateLife)
					r.Post("/commander-damage", h.UpdateCommanderDamage)
					r.Post("/players/{playerID}/partner", h.TogglePartner)
					r.Post("/end", h.EndGame)
				})
			})

			r.Get("/users/me/games", h.ListUserGames)
			r.Get("/users/me/available-games", h.ListAvailableGames)
			r.Get("/users/me/history", h.GetUserHistory)
		})
	})
}

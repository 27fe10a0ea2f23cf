package routers

import (
	"github.com/go-chi/chi/v5"

	"peerprep/matching/internal/match_management"
	"peerprep/matching/internal/room_management"
	"peerprep/matching/internal/utils"
)

// MatchingRoutes mounts the matching API. The websocket endpoint sits
// outside the auth group because browsers cannot set headers on
// websocket upgrades; it identifies the user by query parameter.
func MatchingRoutes(r *chi.Mux, mm *match_management.MatchManager, rm *room_management.RoomManager, jwtSecret string) {
	r.Route("/api/v1/matching", func(r chi.Router) {
		r.HandleFunc("/ws", mm.WsHandler)

		r.Group(func(r chi.Router) {
			r.Use(utils.RequireAuth(jwtSecret))

			r.Post("/", mm.RequestMatchHandler)
			r.Post("/cancel", mm.CancelMatchingHandler)
			r.Get("/session", mm.GetSessionHandler)
			r.Delete("/session", mm.EndSessionHandler)

			r.Route("/custom-matching", func(r chi.Router) {
				r.Post("/create", rm.CreateRoomHandler)
				r.Post("/join", rm.JoinRoomHandler)
				r.Get("/{roomCode}", rm.RoomInfoHandler)
				r.Delete("/leave", rm.LeaveRoomHandler)
			})

			// Static segments above take precedence over the partner
			// id wildcard.
			r.Post("/{partnerUserId}", mm.ConfirmMatchHandler)
		})
	})
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/ws", s.wsBridge)

	r.Route("/api", func(r chi.Router) {
		r.Route("/profile", func(r chi.Router) {
			r.Get("/", s.getProfile)
			r.Post("/", s.createProfile)
			r.Patch("/", s.updateProfile)
			r.Delete("/", s.logout)
			r.Post("/reputation", s.addReputation)
		})

		r.Route("/parties", func(r chi.Router) {
			r.Get("/", s.listParties)
			r.Post("/", s.createParty)
			r.Post("/{partyID}/join", s.joinParty)
			r.Post("/{partyID}/leave", s.leaveParty)
			r.Delete("/{partyID}", s.deleteParty)
			r.Post("/{partyID}/invite", s.inviteToParty)
		})

		r.Route("/invites", func(r chi.Router) {
			r.Get("/", s.myInvites)
			r.Post("/{inviteID}/respond", s.respondToInvite)
		})

		r.Route("/buffs", func(r chi.Router) {
			r.Get("/", s.listBuffs)
			r.Post("/", s.createBuff)
			r.Get("/stats", s.buffStats)
			r.Post("/{scheduleID}/vote", s.voteBuff)
			r.Post("/{scheduleID}/confirm", s.confirmBuff)
			r.Delete("/{scheduleID}", s.cancelBuff)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/upload", s.syncUpload)
			r.Post("/restore", s.syncRestore)
			r.Get("/history", s.syncHistory)
			r.Get("/pending", s.pendingSync)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/permission", s.getPermission)
			r.Post("/permission", s.requestPermission)
		})

		r.Get("/chat/{roomID}", s.chatLog)
	})

	return r
}

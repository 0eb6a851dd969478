package server

import (
	"github.com/Daveeeu/skyrox-core/middleware/playerauth"
	"github.com/Daveeeu/skyrox-core/services/auth"
)

// RegisterRoutes wires the HTTP surface. The device-flow and refresh routes
// are unauthenticated; everything else requires a valid access token.
func RegisterRoutes(s *Server, h *Handlers, authSvc *auth.Service) {
	api := s.Group("/api")

	api.POST("/auth/device", h.InitiateDevice)
	api.POST("/auth/poll", h.PollDevice)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.Logout)

	authed := api.Group("", playerauth.RequirePlayer(authSvc))
	authed.GET("/auth/me", h.Me)
	authed.GET("/players/online", h.OnlinePlayers)
	authed.POST("/permissions/check", h.CheckPermission)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/conduit/internal/protocol"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "conduit",
		"version": s.deps.Version,
	})
}

// handlePublicStatus mirrors what a server list ping shows.
func (s *Server) handlePublicStatus(c *gin.Context) {
	proxy := s.cfg.GetProxy()
	c.JSON(http.StatusOK, gin.H{
		"motd":        proxy.MOTD,
		"online":      s.onlinePlayers(),
		"max_players": proxy.MaxPlayers,
		"versions":    protocol.SupportedRange(),
	})
}

func (s *Server) onlinePlayers() int {
	if s.deps.Players == nil {
		return 0
	}
	return s.deps.Players.Count()
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/conduit/internal/session"
)

type playerView struct {
	Name       string    `json:"name"`
	UUID       string    `json:"uuid"`
	RemoteIP   string    `json:"remote_ip"`
	Protocol   string    `json:"protocol"`
	OnlineMode bool      `json:"online_mode"`
	PingMs     int64     `json:"ping_ms"`
	JoinedAt   time.Time `json:"joined_at"`
	Backend    string    `json:"backend,omitempty"`
}

func viewPlayer(p *session.Player) playerView {
	v := playerView{
		Name:       p.Name(),
		UUID:       p.UUID().String(),
		RemoteIP:   p.RemoteIP(),
		Protocol:   p.ProtocolVersion().Name(),
		OnlineMode: p.OnlineMode(),
		PingMs:     p.Ping().Milliseconds(),
		JoinedAt:   p.JoinedAt(),
	}
	if link := p.Backend(); link != nil {
		v.Backend = link.Addr()
	}
	return v
}

// lookupPlayer resolves :name or writes a 404.
func (s *Server) lookupPlayer(c *gin.Context) (*session.Player, bool) {
	name := c.Param("name")
	if s.deps.Players != nil {
		if p, ok := s.deps.Players.Get(name); ok {
			return p, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "name": name})
	return nil, false
}

func (s *Server) handleListPlayers(c *gin.Context) {
	views := []playerView{}
	if s.deps.Players != nil {
		for _, p := range s.deps.Players.All() {
			views = append(views, viewPlayer(p))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"players": views,
		"total":   len(views),
		"max":     s.cfg.GetProxy().MaxPlayers,
	})
}

func (s *Server) handleGetPlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewPlayer(p))
}

// handleKickPlayer disconnects a player with an optional reason.
func (s *Server) handleKickPlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is fine.
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "Kicked by an operator"
	}

	p.Disconnect(body.Reason)
	s.logger.Info().Str("player", p.Name()).Str("reason", body.Reason).Msg("player kicked via API")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "name": p.Name()})
}

func (s *Server) handleMessagePlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	var body struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := p.SendMessage(body.Message); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// handleBroadcast sends a chat message to every player.
func (s *Server) handleBroadcast(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sent := 0
	if s.deps.Players != nil {
		sent = s.deps.Players.Broadcast(body.Message)
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "recipients": sent})
}

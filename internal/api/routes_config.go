package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
)

// handleGetConfig returns the configuration with the API token masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.API
	if apiCfg.Token != "" {
		apiCfg.Token = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"proxy":       s.cfg.GetProxy(),
		"compression": s.cfg.GetCompression(),
		"admission":   s.cfg.GetAdmission(),
		"api":         apiCfg,
		"mqtt":        s.cfg.MQTT,
		"database":    s.cfg.Database,
		"logging":     s.cfg.Logging,
	})
}

// handleUpdateProxyConfig changes one proxy field by its JSON key. The
// change is rolled back when the result does not validate.
func (s *Server) handleUpdateProxyConfig(c *gin.Context) {
	var body struct {
		Key   string      `json:"key" binding:"required"`
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetProxy()
	if err := s.cfg.UpdateProxyField(body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetProxy(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Errors[0].Error()})
		return
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	s.emit(c, events.EventConfigChanged, events.ConfigChangedPayload{
		Section: "proxy",
		Key:     body.Key,
		Value:   body.Value,
	})
	s.logger.Info().Str("key", body.Key).Interface("value", body.Value).Msg("proxy config updated via API")

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"proxy":  s.cfg.GetProxy(),
	})
}

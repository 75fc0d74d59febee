package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/conduit/internal/util"
)

// handleStatus returns proxy counters together with host resource usage.
func (s *Server) handleStatus(c *gin.Context) {
	proxy := s.cfg.GetProxy()
	connections := 0
	if s.deps.Connections != nil {
		connections = s.deps.Connections.Count()
	}
	whitelisted := 0
	if s.deps.Whitelist != nil {
		whitelisted = len(s.deps.Whitelist.Addresses())
	}

	c.JSON(http.StatusOK, gin.H{
		"version":        s.deps.Version,
		"bind":           proxy.Bind,
		"online_mode":    proxy.OnlineMode,
		"backend":        proxy.Backend,
		"online_players": s.onlinePlayers(),
		"max_players":    proxy.MaxPlayers,
		"connections":    connections,
		"whitelisted":    whitelisted,
		"uptime":         time.Since(s.deps.StartedAt).Round(time.Second).String(),
		"started_at":     s.deps.StartedAt,
		"resources":      util.GetResourceUsage(),
	})
}

type connectionView struct {
	ID          uint64    `json:"id"`
	RemoteIP    string    `json:"remote_ip"`
	State       string    `json:"state"`
	Protocol    string    `json:"protocol"`
	ConnectedAt time.Time `json:"connected_at"`
	Encrypted   bool      `json:"encrypted"`
}

// handleConnections lists every open client connection, logged in or not.
func (s *Server) handleConnections(c *gin.Context) {
	views := []connectionView{}
	if s.deps.Connections != nil {
		for _, conn := range s.deps.Connections.GetAll() {
			views = append(views, connectionView{
				ID:          conn.ID(),
				RemoteIP:    conn.RemoteIP(),
				State:       conn.State().String(),
				Protocol:    conn.ProtocolVersion().Name(),
				ConnectedAt: conn.ConnectedAt(),
				Encrypted:   conn.Encrypted(),
			})
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"connections": views,
		"total":       len(views),
	})
}

package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/conduit/internal/db"
)

func (s *Server) handleGetWhitelist(c *gin.Context) {
	addrs := []string{}
	ttl := 0.0
	if s.deps.Whitelist != nil {
		addrs = append(addrs, s.deps.Whitelist.Addresses()...)
		ttl = s.deps.Whitelist.TTL().Seconds()
	}
	c.JSON(http.StatusOK, gin.H{
		"addresses": addrs,
		"ttl_sec":   ttl,
	})
}

func (s *Server) handleAddWhitelist(c *gin.Context) {
	var body struct {
		IP string `json:"ip" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ip := net.ParseIP(body.IP)
	if ip == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid IP address"})
		return
	}
	if s.deps.Whitelist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whitelist unavailable"})
		return
	}
	s.deps.Whitelist.Add(ip.String())
	c.JSON(http.StatusOK, gin.H{"status": "added", "ip": ip.String()})
}

func (s *Server) handleRemoveWhitelist(c *gin.Context) {
	ip := c.Param("ip")
	if s.deps.Whitelist == nil || !s.deps.Whitelist.Remove(ip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "address is not whitelisted", "ip": ip})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "ip": ip})
}

// handleGetAudit returns recent audit entries filtered by ?type=, ?username=
// and ?limit=.
func (s *Server) handleGetAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log unavailable"})
		return
	}
	filter := db.AuditFilter{
		Type:     c.Query("type"),
		Username: c.Query("username"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	entries, err := s.deps.Audit.Recent(filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("audit query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	if entries == nil {
		entries = []db.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

func (s *Server) permissionsAvailable(c *gin.Context) bool {
	if s.deps.Permissions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "permission store unavailable"})
		return false
	}
	return true
}

func (s *Server) handleGetRoles(c *gin.Context) {
	if !s.permissionsAvailable(c) {
		return
	}
	roles, err := s.deps.Permissions.Roles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (s *Server) handleGetSubjects(c *gin.Context) {
	if !s.permissionsAvailable(c) {
		return
	}
	subjects, err := s.deps.Permissions.Subjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if subjects == nil {
		subjects = []db.Subject{}
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (s *Server) handleAssignRole(c *gin.Context) {
	if !s.permissionsAvailable(c) {
		return
	}
	var body struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subject := c.Param("name")
	if err := s.deps.Permissions.AssignRole(subject, body.Role); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, db.ErrUnknownRole) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("subject", subject).Str("role", body.Role).Msg("role assigned via API")
	c.JSON(http.StatusOK, gin.H{"status": "assigned", "subject": subject, "role": body.Role})
}

func (s *Server) handleRemoveRole(c *gin.Context) {
	if !s.permissionsAvailable(c) {
		return
	}
	subject, role := c.Param("name"), c.Param("role")
	if err := s.deps.Permissions.RemoveRole(subject, role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "subject": subject, "role": role})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/tablist"
)

type tabEntryView struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Latency     int    `json:"latency"`
	GameMode    int    `json:"game_mode"`
}

func viewTabEntry(e *tablist.Entry) tabEntryView {
	profile := e.Profile()
	return tabEntryView{
		UUID:        profile.ID.String(),
		Name:        profile.Name,
		DisplayName: e.DisplayName(),
		Latency:     e.Latency(),
		GameMode:    e.GameMode(),
	}
}

// asComponent passes JSON text components through and wraps plain text.
func asComponent(s string) string {
	if s == "" {
		return protocol.EmptyComponent
	}
	if json.Valid([]byte(s)) {
		return s
	}
	b, _ := json.Marshal(map[string]string{"text": s})
	return string(b)
}

// tabListError maps tab list failures to a status code.
func tabListError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tablist.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, tablist.ErrIllegalState):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleGetTabList(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	list := p.TabList()
	views := []tabEntryView{}
	for _, e := range list.Entries() {
		views = append(views, viewTabEntry(e))
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": views,
		"legacy":  list.LegacyNames(),
		"total":   list.Len(),
	})
}

func (s *Server) handleSetHeaderFooter(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	var body struct {
		Header string `json:"header"`
		Footer string `json:"footer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := p.TabList().SetHeaderAndFooter(asComponent(body.Header), asComponent(body.Footer)); err != nil {
		tabListError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handleClearHeaderFooter(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	if err := p.TabList().ClearHeaderAndFooter(); err != nil {
		tabListError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleAddTabEntry(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	var body struct {
		UUID        string `json:"uuid"`
		Name        string `json:"name" binding:"required,max=16"`
		DisplayName string `json:"display_name"`
		Latency     int    `json:"latency"`
		GameMode    int    `json:"game_mode" binding:"min=0,max=3"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New()
	if body.UUID != "" {
		parsed, err := uuid.Parse(body.UUID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
			return
		}
		id = parsed
	}
	displayName := ""
	if body.DisplayName != "" {
		displayName = asComponent(body.DisplayName)
	}

	list := p.TabList()
	entry := list.BuildEntry(protocol.GameProfile{ID: id, Name: body.Name}, displayName, body.Latency, body.GameMode)
	if err := list.AddEntry(entry); err != nil {
		tabListError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewTabEntry(entry))
}

// lookupTabEntry resolves :id on the player's list or writes an error.
func lookupTabEntry(c *gin.Context, list *tablist.TabList) (*tablist.Entry, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return nil, false
	}
	e, ok := list.Entry(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tab list entry"})
		return nil, false
	}
	return e, true
}

// handleUpdateTabEntry applies whichever of display name, latency and game
// mode the body carries.
func (s *Server) handleUpdateTabEntry(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	e, ok := lookupTabEntry(c, p.TabList())
	if !ok {
		return
	}
	var body struct {
		DisplayName *string `json:"display_name"`
		Latency     *int    `json:"latency"`
		GameMode    *int    `json:"game_mode" binding:"omitempty,min=0,max=3"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.DisplayName != nil {
		name := ""
		if *body.DisplayName != "" {
			name = asComponent(*body.DisplayName)
		}
		if err := e.SetDisplayName(name); err != nil {
			tabListError(c, err)
			return
		}
	}
	if body.Latency != nil {
		if err := e.SetLatency(*body.Latency); err != nil {
			tabListError(c, err)
			return
		}
	}
	if body.GameMode != nil {
		if err := e.SetGameMode(*body.GameMode); err != nil {
			tabListError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, viewTabEntry(e))
}

func (s *Server) handleRemoveTabEntry(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	if _, removed := p.TabList().RemoveEntry(id); !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tab list entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleClearTabList(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	if err := p.TabList().ClearAll(); err != nil {
		tabListError(c, err)
		return
	}
	if err := p.Connection().Flush(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

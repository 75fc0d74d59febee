// Package connector implements clients for external services the proxy
// depends on.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/protocol"
)

const (
	hasJoinedPath = "/session/minecraft/hasJoined"
	userAgent     = "Conduit/%s"
	maxBodySize   = 64 * 1024
)

// ErrNotAuthenticated means the session server has no record of the player
// joining with that server id.
var ErrNotAuthenticated = errors.New("player has not joined with this server id")

// SessionServer verifies player identities against a Mojang-compatible
// session server.
type SessionServer struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
	// PreventProxy sends the player's address so the session server can reject
	// joins relayed from elsewhere.
	PreventProxy bool
}

// NewSessionServer creates a client for the session server at baseURL.
func NewSessionServer(baseURL, version string) *SessionServer {
	return &SessionServer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: fmt.Sprintf(userAgent, version),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    32,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger: log.With().Str("component", "sessionserver").Logger(),
	}
}

type hasJoinedResponse struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Properties []protocol.ProfileProperty `json:"properties"`
}

// HasJoined asks whether username joined with serverID. The deadline comes
// from ctx; the caller owns the timeout.
func (s *SessionServer) HasJoined(ctx context.Context, username, serverID, ip string) (*protocol.GameProfile, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("serverId", serverID)
	if s.PreventProxy && ip != "" {
		q.Set("ip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+hasJoinedPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build hasJoined request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hasJoined request failed: %w", err)
	}
	defer resp.Body.Close()

	s.logger.Debug().
		Str("username", username).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("hasJoined answered")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNotAuthenticated
	default:
		return nil, fmt.Errorf("session server returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read hasJoined response: %w", err)
	}
	var parsed hasJoinedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse hasJoined response: %w", err)
	}

	id, err := uuid.Parse(parsed.ID)
	if err != nil {
		return nil, fmt.Errorf("session server returned bad id %q: %w", parsed.ID, err)
	}
	if parsed.Properties == nil {
		parsed.Properties = []protocol.ProfileProperty{}
	}
	return &protocol.GameProfile{ID: id, Name: parsed.Name, Properties: parsed.Properties}, nil
}

// Package session implements the per-connection state machine: handshake,
// status, login with encryption and identity verification, and play, plus
// the backend link a logged-in player is bridged through.
package session

import (
	"context"
	"errors"

	"github.com/energizer-project/conduit/internal/compression"
	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/metrics"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/util"
)

var (
	// ErrTokenMismatch means the client echoed a verify token other than the
	// one issued. It is treated as tampering.
	ErrTokenMismatch = errors.New("verify token mismatch")
	// ErrAuthTimeout means the identity service did not answer in time.
	ErrAuthTimeout = errors.New("authentication timed out")
	// ErrAuthFailure means the identity service rejected or failed the login.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrAlreadyConnected is returned when a profile is registered twice.
	ErrAlreadyConnected = errors.New("player already connected")
)

// IdentityVerifier checks that a player authenticated with the session
// service for this login.
type IdentityVerifier interface {
	HasJoined(ctx context.Context, username, serverID, ip string) (*protocol.GameProfile, error)
}

// CommandSource is anything that can run console commands.
type CommandSource interface {
	Name() string
	SendMessage(msg string) error
	HasPermission(permission string) bool
}

// CommandExecutor runs command lines. handled is false when no command by
// that name exists, so a player's line can go on to the backend.
type CommandExecutor interface {
	Execute(ctx context.Context, source CommandSource, line string) (handled bool, err error)
}

// Whitelister receives the addresses of players that logged in.
type Whitelister interface {
	Add(ip string)
}

// Environment carries the process-wide collaborators every handler needs.
type Environment struct {
	Config    *config.Config
	Events    events.Firer
	Identity  IdentityVerifier
	Key       *util.ServerKey
	Players   *PlayerRegistry
	Whitelist Whitelister
	Commands  CommandExecutor
	Metrics   *metrics.Metrics
	Registry  *protocol.Registry

	// Compression is the factory backend links negotiate with.
	Compression compression.Factory

	// Version is reported to the session server and in status pings.
	Version string
}

// NewClientHandler is the network.HandlerFactory for player connections.
func (e *Environment) NewClientHandler(conn *network.Connection) network.SessionHandler {
	return newHandshakeHandler(conn, e)
}

func (e *Environment) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if e.Events == nil {
		return
	}
	e.Events.Emit(ctx, events.Event{Type: t, Source: "session", Payload: payload})
}

func (e *Environment) emitSync(ctx context.Context, t events.EventType, payload interface{}) error {
	if e.Events == nil {
		return nil
	}
	return e.Events.EmitSync(ctx, events.Event{Type: t, Source: "session", Payload: payload})
}

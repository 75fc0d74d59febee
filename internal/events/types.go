// Package events defines the proxy's event types and the bus that carries them.
package events

import (
	"github.com/energizer-project/conduit/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Login lifecycle, fired and awaited by the session layer.
	EventPreLogin         EventType = "pre_login"
	EventLogin            EventType = "login"
	EventPostLogin        EventType = "post_login"
	EventPermissionsSetup EventType = "permissions_setup"

	// Notifications, fired without waiting.
	EventDisconnect       EventType = "disconnect"
	EventLoginFailed      EventType = "login_failed"
	EventConnectionDenied EventType = "connection_denied"
	EventBackendConnected EventType = "backend_connected"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PreLoginResult lets handlers steer authentication.
type PreLoginResult int

const (
	PreLoginDefault PreLoginResult = iota
	PreLoginForceOnline
	PreLoginForceOffline
)

// PreLoginPayload is fired when a client sends its username, before any
// authentication. It travels as a pointer so handlers may set Result.
type PreLoginPayload struct {
	Username string
	RemoteIP string
	Version  protocol.Version
	Result   PreLoginResult
}

// LoginPayload is fired once the profile is known.
type LoginPayload struct {
	Profile    protocol.GameProfile
	RemoteIP   string
	OnlineMode bool
}

// PostLoginPayload is fired after the client entered Play.
type PostLoginPayload struct {
	Profile  protocol.GameProfile
	RemoteIP string
	Version  protocol.Version
}

// PermissionFunc answers whether a subject holds a permission.
type PermissionFunc func(permission string) bool

// PermissionsSetupPayload is fired for every command source. It travels as a
// pointer; handlers replace Provider to install their own permission checks.
type PermissionsSetupPayload struct {
	Subject  string
	Provider PermissionFunc
}

// DisconnectPayload is emitted when a logged-in player leaves.
type DisconnectPayload struct {
	Profile  protocol.GameProfile
	RemoteIP string
	Online   int64 // seconds
}

// LoginFailedPayload is emitted when a login attempt ends before Play.
type LoginFailedPayload struct {
	Username string
	RemoteIP string
	Reason   string
}

// ConnectionDeniedPayload is emitted for attempts refused by the admission gate.
type ConnectionDeniedPayload struct {
	RemoteIP string
	Reason   string
}

// BackendConnectedPayload is emitted when a player's backend link reaches Play.
type BackendConnectedPayload struct {
	Username string
	Backend  string
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}

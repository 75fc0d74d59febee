package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/tablist"
)

// Player is a client that completed login.
type Player struct {
	conn       *network.Connection
	profile    protocol.GameProfile
	onlineMode bool
	joinedAt   time.Time
	tabList    *tablist.TabList

	permissions events.PermissionFunc

	ping     atomic.Int64 // milliseconds, -1 until measured
	settings atomic.Pointer[protocol.ClientSettings]
	backend  atomic.Pointer[BackendLink]

	keepAliveMu   sync.Mutex
	keepAliveID   int64
	keepAliveSent time.Time
}

func newPlayer(conn *network.Connection, profile protocol.GameProfile, onlineMode bool) *Player {
	p := &Player{
		conn:       conn,
		profile:    profile,
		onlineMode: onlineMode,
		joinedAt:   time.Now(),
		tabList:    tablist.New(conn),
	}
	p.ping.Store(-1)
	return p
}

func (p *Player) Name() string                    { return p.profile.Name }
func (p *Player) UUID() uuid.UUID                 { return p.profile.ID }
func (p *Player) OnlineMode() bool                { return p.onlineMode }
func (p *Player) JoinedAt() time.Time             { return p.joinedAt }
func (p *Player) RemoteIP() string                { return p.conn.RemoteIP() }
func (p *Player) Connection() *network.Connection { return p.conn }
func (p *Player) TabList() *tablist.TabList       { return p.tabList }

// Profile returns a copy of the verified profile.
func (p *Player) Profile() protocol.GameProfile {
	c := p.profile
	c.Properties = append([]protocol.ProfileProperty(nil), p.profile.Properties...)
	return c
}

func (p *Player) ProtocolVersion() protocol.Version { return p.conn.ProtocolVersion() }

// Ping returns the last measured round trip, or -1.
func (p *Player) Ping() time.Duration {
	ms := p.ping.Load()
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// Settings returns the last ClientSettings the client sent, if any.
func (p *Player) Settings() *protocol.ClientSettings { return p.settings.Load() }

// Backend returns the current backend link, if any.
func (p *Player) Backend() *BackendLink { return p.backend.Load() }

// HasPermission consults the provider installed during login. Without one
// players hold no permissions.
func (p *Player) HasPermission(permission string) bool {
	if p.permissions == nil {
		return false
	}
	return p.permissions(permission)
}

// SendMessage shows a plain text chat line.
func (p *Player) SendMessage(msg string) error {
	return p.conn.Write(&protocol.Chat{Message: textComponent(msg), Position: protocol.ChatPositionSystem})
}

// Disconnect kicks the player with reason and closes the connection.
func (p *Player) Disconnect(reason string) {
	disconnectWith(p.conn, reason)
}

func (p *Player) noteKeepAliveSent(id int64) {
	p.keepAliveMu.Lock()
	p.keepAliveID = id
	p.keepAliveSent = time.Now()
	p.keepAliveMu.Unlock()
}

// noteKeepAliveReply records the round trip if id answers the outstanding
// keep-alive.
func (p *Player) noteKeepAliveReply(id int64) bool {
	p.keepAliveMu.Lock()
	defer p.keepAliveMu.Unlock()
	if p.keepAliveSent.IsZero() || id != p.keepAliveID {
		return false
	}
	p.ping.Store(time.Since(p.keepAliveSent).Milliseconds())
	p.keepAliveSent = time.Time{}
	return true
}

// textComponent renders msg as a JSON chat component.
func textComponent(msg string) string {
	data, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{msg})
	return string(data)
}

// disconnectWith sends the Disconnect packet valid in the connection's state,
// then closes. Before Login there is no such packet and the socket is just
// closed.
func disconnectWith(conn *network.Connection, reason string) {
	switch conn.State() {
	case protocol.StateLogin, protocol.StatePlay:
		_ = conn.CloseWith(&protocol.Disconnect{Reason: textComponent(reason)})
	default:
		conn.Close()
	}
}

package tablist

import (
	"github.com/energizer-project/conduit/internal/protocol"
)

// Game modes as sent on the wire.
const (
	GameModeSurvival  = 0
	GameModeCreative  = 1
	GameModeAdventure = 2
	GameModeSpectator = 3
)

// Entry is one row of a tab list. Its profile is fixed; the other fields are
// guarded by the owning list's lock. Setters send an update to the client
// only while the entry is in its list.
type Entry struct {
	list    *TabList
	profile protocol.GameProfile

	displayName string
	latency     int
	gameMode    int
}

// TabList returns the list the entry was built for.
func (e *Entry) TabList() *TabList { return e.list }

// Profile returns a copy of the entry's game profile.
func (e *Entry) Profile() protocol.GameProfile {
	p := e.profile
	p.Properties = append([]protocol.ProfileProperty(nil), e.profile.Properties...)
	return p
}

func (e *Entry) DisplayName() string {
	e.list.mu.RLock()
	defer e.list.mu.RUnlock()
	return e.displayName
}

func (e *Entry) Latency() int {
	e.list.mu.RLock()
	defer e.list.mu.RUnlock()
	return e.latency
}

func (e *Entry) GameMode() int {
	e.list.mu.RLock()
	defer e.list.mu.RUnlock()
	return e.gameMode
}

// SetDisplayName changes the JSON display name; empty clears it.
func (e *Entry) SetDisplayName(name string) error {
	e.list.mu.Lock()
	e.displayName = name
	pkt := e.list.updateLocked(protocol.ActionUpdateDisplayName, e)
	e.list.mu.Unlock()
	return e.list.send(pkt)
}

func (e *Entry) SetLatency(latency int) error {
	e.list.mu.Lock()
	e.latency = latency
	pkt := e.list.updateLocked(protocol.ActionUpdateLatency, e)
	e.list.mu.Unlock()
	return e.list.send(pkt)
}

func (e *Entry) SetGameMode(mode int) error {
	e.list.mu.Lock()
	e.gameMode = mode
	pkt := e.list.updateLocked(protocol.ActionUpdateGameMode, e)
	e.list.mu.Unlock()
	return e.list.send(pkt)
}

func (e *Entry) itemLocked() protocol.PlayerListEntry {
	return protocol.PlayerListEntry{
		UUID:        e.profile.ID,
		Name:        e.profile.Name,
		Properties:  e.profile.Properties,
		GameMode:    e.gameMode,
		Latency:     e.latency,
		DisplayName: e.displayName,
	}
}

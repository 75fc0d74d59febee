// Package tablist keeps the authoritative player list shown to one client.
// Entries change through local calls, which are sent to the client at once,
// and through packets from the backend, which are recorded before being
// forwarded. Packets are built under the list lock and written after it is
// released, so a slow client never holds up readers of its list.
package tablist

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/protocol"
)

var (
	// ErrInvalidArgument is returned for duplicate ids and foreign entries.
	ErrInvalidArgument = errors.New("invalid tab list argument")
	// ErrIllegalState is returned when a backend sends an unusable add.
	ErrIllegalState = errors.New("illegal tab list state")
)

// PacketWriter is the client connection the list is rendered on.
type PacketWriter interface {
	Write(p protocol.Packet) error
	DelayedWrite(p protocol.Packet) error
	ProtocolVersion() protocol.Version
}

// TabList is safe for concurrent use. Its lock is per list, so unrelated
// players never contend.
type TabList struct {
	conn   PacketWriter
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	// 1.7 rows have no id and are tracked by name.
	legacy map[string]protocol.PlayerListEntry
}

// New creates an empty tab list writing to conn.
func New(conn PacketWriter) *TabList {
	return &TabList{
		conn:    conn,
		logger:  log.With().Str("component", "tablist").Logger(),
		entries: make(map[uuid.UUID]*Entry),
		legacy:  make(map[string]protocol.PlayerListEntry),
	}
}

// BuildEntry creates an entry bound to this list. It is not added yet.
func (t *TabList) BuildEntry(profile protocol.GameProfile, displayName string, latency, gameMode int) *Entry {
	return &Entry{
		list:        t,
		profile:     profile,
		displayName: displayName,
		latency:     latency,
		gameMode:    gameMode,
	}
}

// AddEntry stores e and sends it to the client.
func (t *TabList) AddEntry(e *Entry) error {
	if e == nil || e.list != t {
		return fmt.Errorf("%w: entry was not created by this tab list", ErrInvalidArgument)
	}

	t.mu.Lock()
	if _, exists := t.entries[e.profile.ID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: tab list already contains an entry for %s", ErrInvalidArgument, e.profile.ID)
	}
	t.entries[e.profile.ID] = e
	pkt := &protocol.PlayerListItem{
		Action: protocol.ActionAddPlayer,
		Items:  []protocol.PlayerListEntry{e.itemLocked()},
	}
	t.mu.Unlock()

	return t.conn.Write(pkt)
}

// RemoveEntry removes the entry for id and tells the client. ok is false
// when there was no such entry.
func (t *TabList) RemoveEntry(id uuid.UUID) (removed *Entry, ok bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	delete(t.entries, id)
	pkt := &protocol.PlayerListItem{
		Action: protocol.ActionRemovePlayer,
		Items:  []protocol.PlayerListEntry{e.itemLocked()},
	}
	t.mu.Unlock()

	if err := t.conn.Write(pkt); err != nil {
		t.logger.Debug().Err(err).Str("uuid", id.String()).Msg("failed to send tab list removal")
	}
	return e, true
}

// Entry returns the entry for id.
func (t *TabList) Entry(id uuid.UUID) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Entries returns a snapshot of the entries ordered by name. The slice is
// the caller's; changing it does not affect the list.
func (t *TabList) Entries() []*Entry {
	t.mu.RLock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].profile.Name < out[j].profile.Name
	})
	return out
}

// LegacyNames returns the names of 1.7 rows, sorted.
func (t *TabList) LegacyNames() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.legacy))
	for name := range t.legacy {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of id-keyed entries.
func (t *TabList) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ClearAll drops every entry and queues the removals without flushing; the
// caller flushes. Id-keyed rows go out in one batch, 1.7 rows one by one.
func (t *TabList) ClearAll() error {
	t.mu.Lock()
	items := make([]protocol.PlayerListEntry, 0, len(t.entries))
	for _, e := range t.entries {
		items = append(items, e.itemLocked())
	}
	t.entries = make(map[uuid.UUID]*Entry)

	// Either table is cleared, never both: 1.7 rows only go when there were
	// no id-keyed rows. A client only ever uses one of the two layouts.
	var packets []*protocol.PlayerListItem
	if len(items) > 0 {
		packets = append(packets, &protocol.PlayerListItem{Action: protocol.ActionRemovePlayer, Items: items})
	} else {
		for name, item := range t.legacy {
			packets = append(packets, &protocol.PlayerListItem{
				Action: protocol.ActionRemovePlayer,
				Items:  []protocol.PlayerListEntry{item},
			})
			delete(t.legacy, name)
		}
	}
	t.mu.Unlock()

	var firstErr error
	for _, pkt := range packets {
		if err := t.conn.DelayedWrite(pkt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetHeaderAndFooter sends the header and footer components. Clients before
// 1.8 have no header and are skipped.
func (t *TabList) SetHeaderAndFooter(header, footer string) error {
	if t.conn.ProtocolVersion().Legacy() {
		return nil
	}
	return t.conn.Write(&protocol.HeaderAndFooter{Header: header, Footer: footer})
}

// ClearHeaderAndFooter resets both to empty components.
func (t *TabList) ClearHeaderAndFooter() error {
	return t.SetHeaderAndFooter(protocol.EmptyComponent, protocol.EmptyComponent)
}

// ProcessBackendPacket records a PlayerListItem the backend sent; the caller
// forwards it, so nothing is written here. Updates for unknown ids are
// ignored; they can arrive before the add. An add without a profile fails
// with ErrIllegalState and leaves the list untouched.
func (t *TabList) ProcessBackendPacket(p *protocol.PlayerListItem) error {
	if p.Action == protocol.ActionAddPlayer {
		for _, item := range p.Items {
			if item.UUID != uuid.Nil && (item.Name == "" || item.Properties == nil) {
				return fmt.Errorf("%w: add for %s without a game profile", ErrIllegalState, item.UUID)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range p.Items {
		if item.UUID == uuid.Nil {
			switch p.Action {
			case protocol.ActionAddPlayer:
				t.legacy[item.Name] = item
			case protocol.ActionRemovePlayer:
				delete(t.legacy, item.Name)
			}
			continue
		}

		e, exists := t.entries[item.UUID]
		if p.Action != protocol.ActionAddPlayer && !exists {
			continue
		}

		switch p.Action {
		case protocol.ActionAddPlayer:
			t.entries[item.UUID] = &Entry{
				list: t,
				profile: protocol.GameProfile{
					ID:         item.UUID,
					Name:       item.Name,
					Properties: item.Properties,
				},
				displayName: item.DisplayName,
				latency:     item.Latency,
				gameMode:    item.GameMode,
			}
		case protocol.ActionRemovePlayer:
			delete(t.entries, item.UUID)
		case protocol.ActionUpdateDisplayName:
			e.displayName = item.DisplayName
		case protocol.ActionUpdateLatency:
			e.latency = item.Latency
		case protocol.ActionUpdateGameMode:
			e.gameMode = item.GameMode
		}
	}
	return nil
}

// updateLocked builds a single-row update if e is still in the list, or
// returns nil. Called with t.mu held.
func (t *TabList) updateLocked(action int, e *Entry) *protocol.PlayerListItem {
	if current, ok := t.entries[e.profile.ID]; !ok || current != e {
		return nil
	}
	return &protocol.PlayerListItem{
		Action: action,
		Items:  []protocol.PlayerListEntry{e.itemLocked()},
	}
}

func (t *TabList) send(pkt *protocol.PlayerListItem) error {
	if pkt == nil {
		return nil
	}
	return t.conn.Write(pkt)
}

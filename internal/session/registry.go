package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PlayerRegistry tracks logged-in players by id and by name.
type PlayerRegistry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Player
	byName map[string]*Player
}

// NewPlayerRegistry creates an empty registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{
		byID:   make(map[uuid.UUID]*Player),
		byName: make(map[string]*Player),
	}
}

// Add registers p. It fails if the id or the name (case-insensitively) is
// already online.
func (r *PlayerRegistry) Add(p *Player) error {
	key := strings.ToLower(p.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[p.UUID()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, p.UUID())
	}
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, p.Name())
	}
	r.byID[p.UUID()] = p
	r.byName[key] = p
	return nil
}

// Remove unregisters p if it is the registered player for its id.
func (r *PlayerRegistry) Remove(p *Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byID[p.UUID()]; !ok || current != p {
		return false
	}
	delete(r.byID, p.UUID())
	delete(r.byName, strings.ToLower(p.Name()))
	return true
}

// Get finds a player by name, ignoring case.
func (r *PlayerRegistry) Get(name string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// GetByID finds a player by profile id.
func (r *PlayerRegistry) GetByID(id uuid.UUID) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// All returns the online players sorted by name.
func (r *PlayerRegistry) All() []*Player {
	r.mu.RLock()
	out := make([]*Player, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// Names returns the online player names, for completion.
func (r *PlayerRegistry) Names() []string {
	players := r.All()
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name()
	}
	return names
}

// Count returns the number of online players.
func (r *PlayerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Broadcast sends msg to every online player and returns how many got it.
func (r *PlayerRegistry) Broadcast(msg string) int {
	sent := 0
	for _, p := range r.All() {
		if err := p.SendMessage(msg); err == nil {
			sent++
		}
	}
	return sent
}

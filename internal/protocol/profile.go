package protocol

import "github.com/google/uuid"

// ProfileProperty is a signed key/value attached to a player profile
// (skin textures and the like).
type ProfileProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// GameProfile is the verified identity of a player.
type GameProfile struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Properties []ProfileProperty `json:"properties,omitempty"`
}

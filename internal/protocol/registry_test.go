package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIDs(t *testing.T) {
	r := DefaultRegistry

	tests := []struct {
		name  string
		state State
		dir   Direction
		v     Version
		p     Packet
		id    int
	}{
		{"keepalive 1.7", StatePlay, Serverbound, Version1_7_2, &KeepAlive{}, 0x00},
		{"keepalive 1.12", StatePlay, Serverbound, Version1_12, &KeepAlive{}, 0x0C},
		{"keepalive 1.12.1", StatePlay, Serverbound, Version1_12_1, &KeepAlive{}, 0x0B},
		{"keepalive 1.12.2 inherits 1.12.1", StatePlay, Serverbound, Version1_12_2, &KeepAlive{}, 0x0B},
		{"keepalive 1.14.4", StatePlay, Serverbound, Version1_14_4, &KeepAlive{}, 0x0F},
		{"chat clientbound 1.13", StatePlay, Clientbound, Version1_13_2, &Chat{}, 0x0E},
		{"header footer 1.9.4", StatePlay, Clientbound, Version1_9_4, &HeaderAndFooter{}, 0x47},
		{"header footer 1.14", StatePlay, Clientbound, Version1_14, &HeaderAndFooter{}, 0x53},
		{"player list 1.12.1", StatePlay, Clientbound, Version1_12_1, &PlayerListItem{}, 0x2E},
		{"set compression", StateLogin, Clientbound, Version1_8, &SetCompression{}, 0x03},
		{"encryption response", StateLogin, Serverbound, Version1_7_2, &EncryptionResponse{}, 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := r.ID(tt.state, tt.dir, tt.v, tt.p)
			require.True(t, ok)
			assert.Equal(t, tt.id, id)

			p, ok := r.New(tt.state, tt.dir, tt.v, tt.id)
			require.True(t, ok)
			assert.IsType(t, tt.p, p)
		})
	}

	_, ok := r.ID(StatePlay, Clientbound, Version1_7_6, &HeaderAndFooter{})
	assert.False(t, ok, "header and footer does not exist before 1.8")
	_, ok = r.ID(StateLogin, Clientbound, Version1_7_6, &SetCompression{})
	assert.False(t, ok)
}

func TestRegistryHandshakeAnyVersion(t *testing.T) {
	// A client speaking an unknown version must still be able to handshake.
	p, ok := DefaultRegistry.New(StateHandshake, Serverbound, Version(9999), 0x00)
	require.True(t, ok)
	assert.IsType(t, &Handshake{}, p)
}

func TestRegistryRoundTrip(t *testing.T) {
	r := DefaultRegistry
	packets := []struct {
		state State
		dir   Direction
		p     Packet
	}{
		{StateHandshake, Serverbound, &Handshake{ProtocolVersion: 340, ServerAddress: "play.example.net", Port: 25565, NextStatus: NextStateLogin}},
		{StateStatus, Clientbound, &StatusResponse{Status: `{"description":"hi"}`}},
		{StateStatus, Serverbound, &StatusPing{RandomID: -7}},
		{StateLogin, Serverbound, &ServerLogin{Username: "Notch"}},
		{StateLogin, Clientbound, &ServerLoginSuccess{UUID: uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), Username: "Notch"}},
		{StateLogin, Clientbound, &EncryptionRequest{ServerID: "", PublicKey: []byte{1, 2, 3}, VerifyToken: []byte{4, 5, 6, 7}}},
		{StatePlay, Serverbound, &ClientSettings{Locale: "en_US", ViewDistance: 8, ChatColors: true, SkinParts: 0x7F}},
		{StatePlay, Clientbound, &HeaderAndFooter{Header: `{"text":"a"}`, Footer: `{"text":"b"}`}},
		{StatePlay, Clientbound, &Disconnect{Reason: `{"text":"bye"}`}},
	}

	for _, v := range []Version{Version1_8, Version1_12_2, Version1_14_4} {
		for _, tc := range packets {
			b := NewPacketBuilder()
			require.NoError(t, r.Encode(b, tc.state, tc.dir, v, tc.p))
			got, err := r.Decode(tc.state, tc.dir, v, b.Build())
			require.NoError(t, err, "%T at %s", tc.p, v)
			assert.Equal(t, tc.p, got, "%T at %s", tc.p, v)
		}
	}
}

func TestRegistryDecodeLeftover(t *testing.T) {
	b := NewPacketBuilder()
	require.NoError(t, DefaultRegistry.Encode(b, StateStatus, Serverbound, Version1_12_2, &StatusPing{RandomID: 1}))
	frame := append(append([]byte(nil), b.Build()...), 0x00)

	_, err := DefaultRegistry.Decode(StateStatus, Serverbound, Version1_12_2, frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	var cfe *CorruptedFrameError
	require.True(t, errors.As(err, &cfe))
	assert.Equal(t, 0x01, cfe.PacketID)
}

func TestRegistryDecodeShort(t *testing.T) {
	_, err := DefaultRegistry.Decode(StateStatus, Serverbound, Version1_12_2, []byte{0x01, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRegistryUnknown(t *testing.T) {
	p, err := DefaultRegistry.Decode(StatePlay, Serverbound, Version1_12_2, []byte{0x7A, 0x01, 0x02})
	require.NoError(t, err)
	u, ok := p.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, 0x7A, u.ID)
	assert.Equal(t, []byte{0x01, 0x02}, u.Data)

	b := NewPacketBuilder()
	require.NoError(t, DefaultRegistry.Encode(b, StatePlay, Serverbound, Version1_12_2, u))
	assert.Equal(t, []byte{0x7A, 0x01, 0x02}, b.Build())
}

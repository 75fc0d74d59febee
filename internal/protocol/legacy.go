package protocol

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// LegacyPingFormat distinguishes the two shapes of pre-1.7 server list pings.
type LegacyPingFormat uint8

const (
	// LegacyPingPre14 is a bare 0xFE from beta through 1.3 clients.
	LegacyPingPre14 LegacyPingFormat = iota
	// LegacyPing14 is 0xFE 0x01 (1.4, 1.5) optionally followed by the 1.6
	// plugin message.
	LegacyPing14
)

// LegacyPingMagic is the first byte of a legacy server list ping.
const LegacyPingMagic byte = 0xFE

// LegacyKickID is the id of the kick packet used to answer legacy pings.
const LegacyKickID byte = 0xFF

// DetectLegacyPing classifies the bytes that followed a leading 0xFE.
func DetectLegacyPing(rest []byte) LegacyPingFormat {
	if len(rest) > 0 && rest[0] == 0x01 {
		return LegacyPing14
	}
	return LegacyPingPre14
}

// LegacyPingInfo is what a legacy client can render.
type LegacyPingInfo struct {
	Protocol int
	Version  string
	MOTD     string
	Online   int
	Max      int
}

const sectionSign = "§"

// LegacyPingResponse builds the complete kick packet answering a legacy ping:
// 0xFF, the UTF-16 code unit count as an unsigned short, and the big-endian
// UTF-16 text.
func LegacyPingResponse(format LegacyPingFormat, info LegacyPingInfo) []byte {
	motd := info.MOTD
	if i := strings.IndexByte(motd, '\n'); i >= 0 {
		motd = motd[:i]
	}

	var text string
	switch format {
	case LegacyPing14:
		text = strings.Join([]string{
			sectionSign + "1",
			strconv.Itoa(info.Protocol),
			info.Version,
			motd,
			strconv.Itoa(info.Online),
			strconv.Itoa(info.Max),
		}, "\x00")
	default:
		motd = strings.ReplaceAll(motd, sectionSign, "")
		text = strings.Join([]string{
			motd,
			strconv.Itoa(info.Online),
			strconv.Itoa(info.Max),
		}, sectionSign)
	}

	units := utf16.Encode([]rune(text))
	b := NewPacketBuilder()
	b.WriteByte(LegacyKickID)
	b.WriteUint16(uint16(len(units)))
	for _, u := range units {
		b.WriteUint16(u)
	}
	return b.Build()
}

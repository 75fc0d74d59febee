package protocol

import "fmt"

// Version is a protocol version number. Versions are ordered: a larger value
// is a later epoch of the protocol.
type Version int

const (
	VersionUnknown Version = -1
	Version1_7_2   Version = 4
	Version1_7_6   Version = 5
	Version1_8     Version = 47
	Version1_9     Version = 107
	Version1_9_1   Version = 108
	Version1_9_2   Version = 109
	Version1_9_4   Version = 110
	Version1_10    Version = 210
	Version1_11    Version = 315
	Version1_11_1  Version = 316
	Version1_12    Version = 335
	Version1_12_1  Version = 338
	Version1_12_2  Version = 340
	Version1_13    Version = 393
	Version1_13_1  Version = 401
	Version1_13_2  Version = 404
	Version1_14    Version = 477
	Version1_14_1  Version = 480
	Version1_14_2  Version = 485
	Version1_14_3  Version = 490
	Version1_14_4  Version = 498
)

var versionNames = map[Version]string{
	Version1_7_2:  "1.7.2",
	Version1_7_6:  "1.7.6",
	Version1_8:    "1.8",
	Version1_9:    "1.9",
	Version1_9_1:  "1.9.1",
	Version1_9_2:  "1.9.2",
	Version1_9_4:  "1.9.4",
	Version1_10:   "1.10",
	Version1_11:   "1.11",
	Version1_11_1: "1.11.1",
	Version1_12:   "1.12",
	Version1_12_1: "1.12.1",
	Version1_12_2: "1.12.2",
	Version1_13:   "1.13",
	Version1_13_1: "1.13.1",
	Version1_13_2: "1.13.2",
	Version1_14:   "1.14",
	Version1_14_1: "1.14.1",
	Version1_14_2: "1.14.2",
	Version1_14_3: "1.14.3",
	Version1_14_4: "1.14.4",
}

// SupportedVersions lists every version the codec speaks, oldest first.
var SupportedVersions = []Version{
	Version1_7_2, Version1_7_6, Version1_8,
	Version1_9, Version1_9_1, Version1_9_2, Version1_9_4,
	Version1_10, Version1_11, Version1_11_1,
	Version1_12, Version1_12_1, Version1_12_2,
	Version1_13, Version1_13_1, Version1_13_2,
	Version1_14, Version1_14_1, Version1_14_2, Version1_14_3, Version1_14_4,
}

const (
	MinimumVersion = Version1_7_2
	MaximumVersion = Version1_14_4
)

// Supported reports whether v is one of SupportedVersions.
func (v Version) Supported() bool {
	_, ok := versionNames[v]
	return ok
}

// Name returns the release name, e.g. "1.12.2".
func (v Version) Name() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "unknown"
}

// Legacy reports whether v predates the 1.8 wire changes (VarInt byte arrays,
// compression, the PlayerListItem rewrite).
func (v Version) Legacy() bool {
	return v < Version1_8
}

func (v Version) String() string {
	return fmt.Sprintf("%s (%d)", v.Name(), int(v))
}

// SupportedRange returns a human readable "min-max" string.
func SupportedRange() string {
	return MinimumVersion.Name() + "-" + MaximumVersion.Name()
}

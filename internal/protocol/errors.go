package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is the root of every malformed-input error. A connection
// that sees it must be closed.
var ErrProtocolViolation = errors.New("protocol violation")

// Violationf builds an error wrapping ErrProtocolViolation.
func Violationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// CorruptedFrameError reports a frame that failed to decode as the packet its
// id announced.
type CorruptedFrameError struct {
	State     State
	Direction Direction
	Version   Version
	PacketID  int
	Err       error
}

func (e *CorruptedFrameError) Error() string {
	return fmt.Sprintf("corrupted frame: %s %s packet 0x%02X at %s: %v",
		e.State, e.Direction, e.PacketID, e.Version.Name(), e.Err)
}

func (e *CorruptedFrameError) Unwrap() []error {
	return []error{ErrProtocolViolation, e.Err}
}

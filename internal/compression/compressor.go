// Package compression provides the zlib layer negotiated during login. Two
// implementations share one contract: a portable one on compress/zlib and an
// accelerated one on klauspost/compress.
package compression

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMalformedStream is returned when compressed input is not valid zlib.
	ErrMalformedStream = errors.New("malformed compressed stream")
	// ErrSizeLimitExceeded is returned when inflated output would pass the
	// caller's ceiling.
	ErrSizeLimitExceeded = errors.New("decompressed size limit exceeded")
	// ErrDisposed is returned by every call made after Dispose.
	ErrDisposed = errors.New("compressor already disposed")
)

// BufferSize is the scratch size used for staging and per-chunk inflation.
const BufferSize = 8192

// Compressor deflates and inflates whole packets. Instances are connection
// private and not safe for concurrent use; Dispose is idempotent.
type Compressor interface {
	// Deflate compresses all of src into dst and finishes the stream.
	Deflate(src []byte, dst io.Writer) error
	// Inflate decompresses src into dst, writing at most max bytes.
	Inflate(src []byte, dst io.Writer, max int) error
	// Dispose releases the instance. Later calls fail with ErrDisposed.
	Dispose()
}

// Grower is implemented by destinations that can reserve capacity in place,
// such as *bytes.Buffer.
type Grower interface {
	Grow(n int)
}

// Implementation names accepted by Select.
const (
	ImplementationAuto        = "auto"
	ImplementationAccelerated = "accelerated"
	ImplementationPortable    = "portable"
)

// Factory creates a compressor at the given zlib level (-1 for default).
type Factory func(level int) (Compressor, error)

// Select resolves a configured implementation name to a factory. "auto" and
// the empty string pick the accelerated implementation.
func Select(implementation string) (string, Factory, error) {
	switch strings.ToLower(implementation) {
	case "", ImplementationAuto, ImplementationAccelerated:
		return ImplementationAccelerated, NewAccelerated, nil
	case ImplementationPortable:
		return ImplementationPortable, NewPortable, nil
	default:
		return "", nil, fmt.Errorf("unknown compression implementation %q", implementation)
	}
}

// ValidLevel reports whether level is accepted by both implementations.
func ValidLevel(level int) bool {
	return level >= -1 && level <= 9
}

package compression

import (
	"bufio"
	"bytes"
	stdzlib "compress/zlib"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	kpzlib "github.com/klauspost/compress/zlib"
)

type resettableWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

type resettableReader interface {
	io.ReadCloser
	Reset(r io.Reader, dict []byte) error
}

// zlibCompressor is the shared implementation; the two public constructors
// only differ in which zlib package they plug in.
type zlibCompressor struct {
	newReader func(r io.Reader) (io.ReadCloser, error)

	writer  resettableWriter
	reader  resettableReader
	source  bytes.Reader
	staging *bufio.Writer
	chunk   []byte

	disposed atomic.Bool
}

// NewPortable returns a compressor backed by the standard library.
func NewPortable(level int) (Compressor, error) {
	w, err := stdzlib.NewWriterLevel(io.Discard, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	return &zlibCompressor{
		newReader: stdzlib.NewReader,
		writer:    w,
	}, nil
}

// NewAccelerated returns a compressor backed by klauspost/compress.
func NewAccelerated(level int) (Compressor, error) {
	w, err := kpzlib.NewWriterLevel(io.Discard, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	return &zlibCompressor{
		newReader: kpzlib.NewReader,
		writer:    w,
	}, nil
}

func (c *zlibCompressor) Deflate(src []byte, dst io.Writer) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	if g, ok := dst.(Grower); ok {
		// Compressed output rarely exceeds the input by more than the header.
		g.Grow(len(src) + 16)
		c.writer.Reset(dst)
	} else {
		if c.staging == nil {
			c.staging = bufio.NewWriterSize(dst, BufferSize)
		} else {
			c.staging.Reset(dst)
		}
		c.writer.Reset(c.staging)
	}
	defer c.release()

	if _, err := c.writer.Write(src); err != nil {
		return fmt.Errorf("failed to deflate: %w", err)
	}
	if err := c.writer.Close(); err != nil {
		return fmt.Errorf("failed to finish deflate stream: %w", err)
	}
	if c.staging != nil && c.staging.Buffered() > 0 {
		if err := c.staging.Flush(); err != nil {
			return fmt.Errorf("failed to drain deflate output: %w", err)
		}
	}
	return nil
}

// release drops references to caller buffers so the instance holds nothing
// between calls.
func (c *zlibCompressor) release() {
	c.writer.Reset(io.Discard)
	if c.staging != nil {
		c.staging.Reset(io.Discard)
	}
}

func (c *zlibCompressor) Inflate(src []byte, dst io.Writer, max int) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.source.Reset(src)
	if err := c.resetReader(); err != nil {
		return err
	}
	if c.chunk == nil {
		c.chunk = make([]byte, BufferSize)
	}

	written := 0
	for {
		n, err := c.reader.Read(c.chunk)
		if n > 0 {
			if written+n > max {
				return fmt.Errorf("%w: inflated past %d bytes", ErrSizeLimitExceeded, max)
			}
			if _, werr := dst.Write(c.chunk[:n]); werr != nil {
				return fmt.Errorf("failed to write inflated data: %w", werr)
			}
			written += n
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedStream, err)
		}
	}
}

func (c *zlibCompressor) resetReader() error {
	if c.reader == nil {
		r, err := c.newReader(&c.source)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedStream, err)
		}
		c.reader = r.(resettableReader)
		return nil
	}
	if err := c.reader.Reset(&c.source, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	return nil
}

func (c *zlibCompressor) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	_ = c.writer.Close()
	if c.reader != nil {
		_ = c.reader.Close()
	}
	c.writer = nil
	c.reader = nil
	c.staging = nil
	c.chunk = nil
}

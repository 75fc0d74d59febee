// Package network implements the per-connection protocol pipeline (frame
// codec, cipher, compression, packet codec and session handler dispatch) and
// the TCP listener that feeds it.
package network

import (
	"bufio"
	"bytes"
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/compression"
	"github.com/energizer-project/conduit/internal/metrics"
	"github.com/energizer-project/conduit/internal/protocol"
)

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("connection is closed")

const (
	readBufferSize  = 16 * 1024
	writeBufferSize = 8 * 1024
	writeTimeout    = 10 * time.Second
)

// SessionHandler is the active behaviour of a connection. Exactly one handler
// is bound at a time and it is only invoked from the connection's owner
// goroutine.
type SessionHandler interface {
	// Activated runs when the handler becomes the active one.
	Activated(ctx context.Context) error
	// Handle processes a decoded packet and reports whether it consumed it.
	Handle(ctx context.Context, p protocol.Packet) (bool, error)
	// HandleUnknown receives unregistered packets and those Handle declined.
	HandleUnknown(ctx context.Context, p protocol.Packet) error
	// Deactivated runs when another handler replaces this one.
	Deactivated()
	// Disconnected runs once after the connection has closed.
	Disconnected()
}

// LegacyPingHandler is implemented by handlers that answer pre-1.7 server
// list pings. The returned bytes are written verbatim before closing.
type LegacyPingHandler interface {
	HandleLegacyPing(format protocol.LegacyPingFormat) []byte
}

// NopHandler implements SessionHandler with no-ops; embed it and override.
type NopHandler struct{}

func (NopHandler) Activated(context.Context) error                       { return nil }
func (NopHandler) Handle(context.Context, protocol.Packet) (bool, error) { return false, nil }
func (NopHandler) HandleUnknown(context.Context, protocol.Packet) error  { return nil }
func (NopHandler) Deactivated()                                          {}
func (NopHandler) Disconnected()                                         {}

// closedHandler is bound once a connection is closed; everything is dropped.
type closedHandler struct{ NopHandler }

// Options configure a Connection.
type Options struct {
	Registry *protocol.Registry
	// Inbound is the direction of packets read from this connection:
	// Serverbound for client connections, Clientbound for backend links.
	Inbound     protocol.Direction
	ReadTimeout time.Duration

	Compression      compression.Factory
	CompressionLevel int
	MaxUncompressed  int

	Metrics *metrics.Metrics
}

// Connection is one client or backend link. A single owner goroutine runs
// Run: read, decrypt, frame, inflate, decode, dispatch. Writers on any
// goroutine go through writeMu, which guards every piece of outbound state.
type Connection struct {
	id     uint64
	conn   net.Conn
	opts   Options
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity atomic.Int64

	// Owner goroutine only.
	ctx     context.Context
	handler SessionHandler
	decoder *FrameDecoder
	decrypt cipher.Stream
	inCodec *compression.Codec

	writeMu  sync.Mutex
	w        *bufio.Writer
	encrypt  cipher.Stream
	outCodec *compression.Codec
	state    protocol.State
	version  protocol.Version
	body     protocol.PacketBuilder
	packed   bytes.Buffer
	frame    []byte

	closed atomic.Bool
}

var connectionIDs atomic.Uint64

// NewConnection wraps an accepted socket. The handler is activated when Run
// starts.
func NewConnection(conn net.Conn, opts Options, handler SessionHandler) *Connection {
	if opts.Registry == nil {
		opts.Registry = protocol.DefaultRegistry
	}
	c := &Connection{
		id:          connectionIDs.Add(1),
		conn:        conn,
		opts:        opts,
		connectedAt: time.Now(),
		handler:     handler,
		decoder:     NewFrameDecoder(),
		state:       protocol.StateHandshake,
		version:     protocol.VersionUnknown,
		logger: log.With().
			Str("component", "connection").
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.w = bufio.NewWriterSize(&countingWriter{c: c}, writeBufferSize)
	c.touch()
	return c
}

// countingWriter sits under the bufio writer so flushed bytes are counted.
type countingWriter struct {
	c *Connection
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.c.conn.Write(p)
	cw.c.opts.Metrics.RecordBytesOut(n)
	return n, err
}

// ID is a process-unique connection number.
func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// RemoteIP returns the peer's IP without the port.
func (c *Connection) RemoteIP() string { return extractIP(c.conn.RemoteAddr()) }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Logger returns the connection's logger.
func (c *Connection) Logger() *zerolog.Logger { return &c.logger }

// WithLogFields adds fields to the connection logger. Owner goroutine only.
func (c *Connection) WithLogFields(fn func(zerolog.Context) zerolog.Context) {
	c.logger = fn(c.logger.With()).Logger()
}

func (c *Connection) State() protocol.State {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.state
}

// SetState switches the packet id space for both directions.
func (c *Connection) SetState(s protocol.State) {
	c.writeMu.Lock()
	c.state = s
	c.writeMu.Unlock()
}

func (c *Connection) ProtocolVersion() protocol.Version {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.version
}

// SetProtocolVersion fixes the version used for encoding and decoding.
func (c *Connection) SetProtocolVersion(v protocol.Version) {
	c.writeMu.Lock()
	c.version = v
	c.writeMu.Unlock()
}

// SessionHandler returns the active handler. Owner goroutine only.
func (c *Connection) SessionHandler() SessionHandler { return c.handler }

// SetSessionHandler replaces the active handler wholesale. It must be called
// from the owner goroutine, normally from inside the current handler; the
// next dispatched packet goes to h.
func (c *Connection) SetSessionHandler(h SessionHandler) error {
	if c.closed.Load() {
		return ErrClosed
	}
	old := c.handler
	c.handler = h
	if old != nil {
		old.Deactivated()
	}
	if c.ctx != nil {
		return h.Activated(c.ctx)
	}
	return nil
}

// EnableEncryption installs AES/CFB8 in both directions. Owner goroutine
// only; anything buffered for writing is flushed in the clear first.
func (c *Connection) EnableEncryption(secret []byte) error {
	enc, dec, err := NewCipherStreams(secret)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.encrypt != nil {
		return fmt.Errorf("encryption already enabled")
	}
	if err := c.flushLocked(); err != nil {
		return err
	}
	c.encrypt = enc
	c.decrypt = dec
	c.decoder.DecryptPending(dec)
	return nil
}

// Encrypted reports whether encryption is active.
func (c *Connection) Encrypted() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encrypt != nil
}

// SetCompressionThreshold enables compression with the given threshold, or
// disables it for a negative one. Owner goroutine only.
func (c *Connection) SetCompressionThreshold(threshold int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.disposeCodecsLocked()
	if threshold < 0 {
		return nil
	}
	if c.opts.Compression == nil {
		return fmt.Errorf("no compression implementation configured")
	}

	in, err := c.opts.Compression(c.opts.CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	out, err := c.opts.Compression(c.opts.CompressionLevel)
	if err != nil {
		in.Dispose()
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	c.inCodec = compression.NewCodec(in, threshold, c.opts.MaxUncompressed)
	c.outCodec = compression.NewCodec(out, threshold, c.opts.MaxUncompressed)
	return nil
}

// disposeCodecsLocked releases both compressors. Dispose is idempotent, and
// the codecs are dropped so nothing can use them afterwards.
func (c *Connection) disposeCodecsLocked() {
	if c.inCodec != nil {
		c.inCodec.Dispose()
		c.inCodec = nil
	}
	if c.outCodec != nil {
		c.outCodec.Dispose()
		c.outCodec = nil
	}
}

// Write encodes p and flushes it.
func (c *Connection) Write(p protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writePacketLocked(p); err != nil {
		return err
	}
	return c.flushLocked()
}

// DelayedWrite encodes p into the write buffer without flushing.
func (c *Connection) DelayedWrite(p protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writePacketLocked(p)
}

// WriteRaw sends an already encoded packet body (id and fields) and flushes.
func (c *Connection) WriteRaw(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.writeBodyLocked(body); err != nil {
		return err
	}
	return c.flushLocked()
}

// Flush writes out buffered packets.
func (c *Connection) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.flushLocked()
}

// CloseWith writes p, flushes and closes.
func (c *Connection) CloseWith(p protocol.Packet) error {
	err := c.Write(p)
	c.Close()
	return err
}

// Close closes the socket. It is safe from any goroutine and idempotent;
// compressor release happens in the owner's teardown.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.conn.Close()
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) writePacketLocked(p protocol.Packet) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.body.Reset()
	if err := c.opts.Registry.Encode(&c.body, c.state, outbound(c.opts.Inbound), c.version, p); err != nil {
		return err
	}
	c.opts.Metrics.RecordPacketOut(c.state.String())
	return c.writeBodyLocked(c.body.Build())
}

func (c *Connection) writeBodyLocked(body []byte) error {
	payload := body
	if c.outCodec != nil {
		c.packed.Reset()
		if err := c.outCodec.Encode(&c.packed, body); err != nil {
			return fmt.Errorf("failed to compress packet: %w", err)
		}
		payload = c.packed.Bytes()
	}

	frame, err := AppendFrame(c.frame[:0], payload)
	if err != nil {
		return err
	}
	c.frame = frame
	if c.encrypt != nil {
		c.encrypt.XORKeyStream(frame, frame)
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

func (c *Connection) flushLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.w.Buffered() == 0 {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	c.touch()
	return nil
}

func outbound(inbound protocol.Direction) protocol.Direction {
	if inbound == protocol.Serverbound {
		return protocol.Clientbound
	}
	return protocol.Serverbound
}

// Run is the owner loop. It returns when the connection closes, after the
// compressors are released and the handler is told.
func (c *Connection) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx
	defer c.teardown()

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	if err := c.handler.Activated(ctx); err != nil {
		c.fail(err)
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		if c.opts.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.touch()
			c.opts.Metrics.RecordBytesIn(n)
			chunk := buf[:n]
			if c.decrypt != nil {
				c.decrypt.XORKeyStream(chunk, chunk)
			}
			c.decoder.Feed(chunk)

			if format, legacy := c.decoder.Legacy(); legacy {
				c.answerLegacyPing(format)
				return
			}
			if derr := c.drain(ctx); derr != nil {
				c.fail(derr)
				return
			}
		}
		if err != nil {
			c.readFailed(err)
			return
		}
		if c.closed.Load() {
			return
		}
	}
}

// drain dispatches every complete buffered frame.
func (c *Connection) drain(ctx context.Context) error {
	for !c.closed.Load() {
		frame, ok, err := c.decoder.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		body := frame
		if c.inCodec != nil {
			if body, err = c.inCodec.Decode(frame); err != nil {
				return err
			}
		}

		p, err := c.opts.Registry.Decode(c.state, c.opts.Inbound, c.version, body)
		if err != nil {
			return err
		}
		c.opts.Metrics.RecordPacketIn(c.state.String())

		if _, unknown := p.(*protocol.Unknown); unknown {
			if err := c.handler.HandleUnknown(ctx, p); err != nil {
				return err
			}
			continue
		}
		handled, err := c.handler.Handle(ctx, p)
		if err != nil {
			return err
		}
		if !handled {
			if err := c.handler.HandleUnknown(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Connection) answerLegacyPing(format protocol.LegacyPingFormat) {
	lp, ok := c.handler.(LegacyPingHandler)
	if !ok {
		c.logger.Debug().Msg("legacy ping not supported by handler, closing")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(lp.HandleLegacyPing(format)); err != nil {
		return
	}
	if err := c.flushLocked(); err != nil {
		c.logger.Debug().Err(err).Msg("failed to answer legacy ping")
	}
}

// fail logs err according to its kind and closes the connection.
func (c *Connection) fail(err error) {
	if c.closed.Load() {
		return
	}
	switch {
	case errors.Is(err, compression.ErrSizeLimitExceeded):
		c.opts.Metrics.RecordError("size_limit")
		c.logger.Warn().Err(err).Msg("possible compression abuse, closing connection")
	case errors.Is(err, compression.ErrMalformedStream):
		c.opts.Metrics.RecordError("malformed_stream")
		c.logger.Warn().Err(err).Msg("malformed compressed data, closing connection")
	case errors.Is(err, protocol.ErrProtocolViolation):
		c.opts.Metrics.RecordError("protocol_violation")
		c.logger.Warn().Err(err).Msg("protocol violation, closing connection")
	case errors.Is(err, ErrClosed):
	default:
		c.opts.Metrics.RecordError("handler")
		c.logger.Error().Err(err).Msg("session handler failed, closing connection")
	}
	c.Close()
}

func (c *Connection) readFailed(err error) {
	if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.opts.Metrics.RecordError("read_timeout")
		c.logger.Debug().Dur("timeout", c.opts.ReadTimeout).Msg("read timed out")
		return
	}
	c.logger.Debug().Err(err).Msg("read error, closing connection")
}

func (c *Connection) teardown() {
	c.Close()

	c.writeMu.Lock()
	c.disposeCodecsLocked()
	c.writeMu.Unlock()

	c.handler.Disconnected()
	c.handler = closedHandler{}
}

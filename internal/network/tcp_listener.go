package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/admission"
)

// Admitter decides whether a connection attempt from ip may proceed.
type Admitter interface {
	Admit(ip string) admission.Decision
}

// HandlerFactory builds the initial session handler for a new connection.
type HandlerFactory func(conn *Connection) SessionHandler

// DeniedFunc is told about attempts the admission gate refused.
type DeniedFunc func(ip string, decision admission.Decision)

// TCPListener accepts client connections. The admission gate runs on the raw
// socket before a byte is read; a denied socket is closed without a reply.
type TCPListener struct {
	addr        string
	gate        Admitter
	newHandler  HandlerFactory
	opts        Options
	maxConns    int
	onDenied    DeniedFunc
	connections *ConnectionRegistry

	listener net.Listener
	active   atomic.Int32
	wg       sync.WaitGroup
}

// ListenerConfig configures a TCPListener.
type ListenerConfig struct {
	Addr           string
	MaxConnections int
	Options        Options
	Gate           Admitter
	Handler        HandlerFactory
	OnDenied       DeniedFunc
}

// NewTCPListener creates a new TCP listener. Connections are tracked in
// registry while they run.
func NewTCPListener(cfg ListenerConfig, registry *ConnectionRegistry) *TCPListener {
	return &TCPListener{
		addr:        cfg.Addr,
		gate:        cfg.Gate,
		newHandler:  cfg.Handler,
		opts:        cfg.Options,
		maxConns:    cfg.MaxConnections,
		onDenied:    cfg.OnDenied,
		connections: registry,
	}
}

// Listen binds the socket. It is separate from Serve so callers can learn the
// bound address before accepting.
func (l *TCPListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}
	l.listener = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts until ctx is cancelled, then waits for every connection
// goroutine to finish.
func (l *TCPListener) Serve(ctx context.Context) error {
	if l.listener == nil {
		if err := l.Listen(ctx); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()
	defer l.wg.Wait()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("TCP listener stopping")
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		ip := extractIP(conn.RemoteAddr())
		if decision := l.gate.Admit(ip); !decision.Allowed() {
			conn.Close()
			log.Debug().Str("remote", ip).Str("reason", decision.String()).Msg("connection denied by admission gate")
			l.opts.Metrics.RecordDenied(decision.String())
			if l.onDenied != nil {
				l.onDenied(ip, decision)
			}
			continue
		}

		if l.maxConns > 0 && int(l.active.Load()) >= l.maxConns {
			conn.Close()
			log.Warn().Str("remote", ip).Int("max", l.maxConns).Msg("max concurrent connections reached, dropping")
			l.opts.Metrics.RecordDenied("max_connections")
			continue
		}

		l.active.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.active.Add(-1)
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs one connection's owner loop to completion.
func (l *TCPListener) handleConnection(ctx context.Context, raw net.Conn) {
	conn := NewConnection(raw, l.opts, nil)
	conn.handler = l.newHandler(conn)

	l.opts.Metrics.RecordConnection()
	l.connections.Register(conn)
	defer func() {
		l.connections.Unregister(conn.ID())
		l.opts.Metrics.RecordDisconnection(time.Since(conn.ConnectedAt()))
	}()

	conn.logger.Debug().Msg("connection accepted")
	conn.Run(ctx)
	conn.logger.Debug().Msg("connection closed")
}

// ActiveConnections returns the number of running connection goroutines.
func (l *TCPListener) ActiveConnections() int {
	return int(l.active.Load())
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func extractIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

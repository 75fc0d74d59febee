// Package proxy assembles the listener, sessions, admin surfaces and
// background tasks into one runnable proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/conduit/internal/admission"
	"github.com/energizer-project/conduit/internal/api"
	"github.com/energizer-project/conduit/internal/cli"
	"github.com/energizer-project/conduit/internal/compression"
	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/connector"
	"github.com/energizer-project/conduit/internal/db"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/metrics"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/scheduler"
	"github.com/energizer-project/conduit/internal/session"
	"github.com/energizer-project/conduit/internal/telemetry"
	"github.com/energizer-project/conduit/internal/util"
)

const shutdownReason = "Proxy is shutting down."

// Options tune what New wires in besides the configuration.
type Options struct {
	Version string
	// Console attaches the interactive console to stdin.
	Console bool
}

// Server owns every long-lived component of a running proxy.
type Server struct {
	cfg       *config.Config
	opts      Options
	startedAt time.Time
	logger    zerolog.Logger

	bus         *events.EventBus
	metrics     *metrics.Metrics
	gate        *admission.Gate
	connections *network.ConnectionRegistry
	players     *session.PlayerRegistry
	env         *session.Environment
	listener    *network.TCPListener

	commands *cli.Manager
	console  *cli.Console

	database    *db.Database
	audit       *db.AuditLog
	permissions *db.PermissionStore

	api       *api.Server
	mqtt      *telemetry.MQTTHandler
	scheduler *scheduler.Scheduler

	mu   sync.Mutex
	stop context.CancelFunc
	// stopRequested is set by Shutdown before Run has installed stop.
	stopRequested bool
}

// New builds a proxy from cfg. Nothing is bound until Listen or Run.
func New(cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		opts:        opts,
		startedAt:   time.Now(),
		logger:      log.With().Str("component", "proxy").Logger(),
		bus:         events.NewEventBus(),
		metrics:     metrics.New(),
		connections: network.NewConnectionRegistry(),
		players:     session.NewPlayerRegistry(),
	}

	adm := cfg.GetAdmission()
	s.gate = admission.NewGate(admission.Config{
		Interval:         adm.Interval(),
		WhitelistTTL:     adm.WhitelistTTL(),
		ThrottleCapacity: adm.ThrottleCapacity,
		ThrottleDuration: adm.ThrottleDuration(),
		MaxTracked:       adm.MaxTracked,
	})

	comp := cfg.GetCompression()
	implName, factory, err := compression.Select(comp.Implementation)
	if err != nil {
		return nil, err
	}

	key, err := util.GenerateServerKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate server key: %w", err)
	}

	if err := s.openDatabase(); err != nil {
		return nil, err
	}

	s.commands = cli.NewManager(cli.Deps{
		Config:      cfg,
		Players:     s.players,
		Whitelist:   s.gate.Whitelist(),
		Events:      s.bus,
		Connections: s.connections.Count,
		Shutdown:    s.Shutdown,
		StartedAt:   s.startedAt,
	})
	if opts.Console {
		s.console = cli.NewConsole(s.commands, os.Stdout)
	}

	proxyCfg := cfg.GetProxy()
	s.env = &session.Environment{
		Config:      cfg,
		Events:      s.bus,
		Identity:    connector.NewSessionServer(proxyCfg.SessionServerURL, opts.Version),
		Key:         key,
		Players:     s.players,
		Whitelist:   s.gate.Whitelist(),
		Commands:    s.commands,
		Metrics:     s.metrics,
		Registry:    protocol.DefaultRegistry,
		Compression: factory,
		Version:     opts.Version,
	}

	s.listener = network.NewTCPListener(network.ListenerConfig{
		Addr:           proxyCfg.Bind,
		MaxConnections: proxyCfg.MaxConnections,
		Options: network.Options{
			Registry:         protocol.DefaultRegistry,
			Inbound:          protocol.Serverbound,
			ReadTimeout:      proxyCfg.ReadTimeout(),
			Compression:      factory,
			CompressionLevel: comp.Level,
			MaxUncompressed:  comp.MaxUncompressed,
			Metrics:          s.metrics,
		},
		Gate:     s.gate,
		Handler:  s.env.NewClientHandler,
		OnDenied: s.onDenied,
	}, s.connections)

	if cfg.API.Enabled {
		s.api = api.NewServer(cfg, api.Deps{
			Events:      s.bus,
			Players:     s.players,
			Connections: s.connections,
			Whitelist:   s.gate.Whitelist(),
			Metrics:     s.metrics,
			Audit:       s.audit,
			Permissions: s.permissions,
			StartedAt:   s.startedAt,
			Version:     opts.Version,
		})
	}

	if cfg.MQTT.Enabled {
		s.mqtt, err = telemetry.NewMQTTHandler(cfg, opts.Version)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			s.mqtt = nil
		}
	}

	schedOpts := scheduler.Options{
		Audit:       s.audit,
		Online:      s.players.Count,
		Connections: s.connections.Count,
		StartedAt:   s.startedAt,
	}
	if s.mqtt != nil {
		schedOpts.Stats = s.mqtt
	}
	s.scheduler = scheduler.NewScheduler(cfg, schedOpts)

	s.logger.Info().
		Str("bind", proxyCfg.Bind).
		Bool("online_mode", proxyCfg.OnlineMode).
		Str("compression", implName).
		Int("threshold", comp.Threshold).
		Str("versions", protocol.SupportedRange()).
		Msg("proxy configured")

	return s, nil
}

func (s *Server) openDatabase() error {
	database, err := db.Open(s.cfg.Database.Path)
	if err != nil {
		return err
	}
	permissions, err := db.NewPermissionStore(database)
	if err != nil {
		database.Close()
		return err
	}

	s.database = database
	s.audit = db.NewAuditLog(database)
	s.permissions = permissions
	s.audit.Subscribe(s.bus)
	s.permissions.Subscribe(s.bus)
	return nil
}

func (s *Server) onDenied(ip string, decision admission.Decision) {
	s.bus.Emit(context.Background(), events.Event{
		Type:    events.EventConnectionDenied,
		Source:  "admission",
		Payload: events.ConnectionDeniedPayload{RemoteIP: ip, Reason: decision.String()},
	})
}

// Listen binds the player listener so Addr is known before Run.
func (s *Server) Listen(ctx context.Context) error {
	return s.listener.Listen(ctx)
}

// Addr returns the bound player listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Events exposes the bus for plugins and tests.
func (s *Server) Events() *events.EventBus { return s.bus }

// Players exposes the online player registry.
func (s *Server) Players() *session.PlayerRegistry { return s.players }

// Run serves until ctx is cancelled, Shutdown is called or the listener
// fails. Players are sent a disconnect before their connections close.
func (s *Server) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	s.mu.Lock()
	s.stop = stop
	if s.stopRequested {
		stop()
	}
	s.mu.Unlock()

	if s.listener.Addr() == nil {
		if err := s.listener.Listen(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}

	if s.console != nil {
		if err := s.console.SetupPermissions(runCtx, s.bus); err != nil {
			s.logger.Warn().Err(err).Msg("console permission setup failed")
		}
	}

	// Connections live on their own context so players can be told why they
	// are leaving before the sockets close.
	connCtx, closeConns := context.WithCancel(context.WithoutCancel(runCtx))
	defer closeConns()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := s.listener.Serve(connCtx); err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.disconnectAll(shutdownReason)
		closeConns()
		return nil
	})

	if s.api != nil {
		g.Go(func() error {
			if err := s.api.Start(gctx); err != nil {
				s.logger.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
			return nil
		})
	}

	if s.mqtt != nil {
		g.Go(func() error {
			if err := s.mqtt.Start(gctx, s.bus); err != nil {
				s.logger.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
			return nil
		})
	}

	g.Go(func() error {
		s.scheduler.Start(gctx)
		return nil
	})

	if s.console != nil {
		g.Go(func() error {
			if err := s.console.Run(gctx); err != nil {
				s.logger.Warn().Err(err).Msg("console stopped")
			}
			return nil
		})
	}

	s.logger.Info().Msg("proxy running")
	err := g.Wait()
	s.bus.Stop()
	s.logger.Info().Msg("proxy stopped")
	return err
}

// disconnectAll kicks every logged-in player and closes the rest.
func (s *Server) disconnectAll(reason string) {
	players := s.players.All()
	for _, p := range players {
		p.Disconnect(reason)
	}
	if len(players) > 0 {
		s.logger.Info().Int("players", len(players)).Msg("disconnected players for shutdown")
	}
	s.connections.CloseAll()
}

// Shutdown asks Run to return. It is safe to call more than once and from
// any goroutine.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	if s.stop != nil {
		s.stop()
	}
}

// Close releases the database. Call it after Run returns.
func (s *Server) Close() error {
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

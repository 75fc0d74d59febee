package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/admission"
	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/db"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/metrics"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/session"
)

// Deps are the proxy components the API reads and steers. Audit and
// Permissions may be nil when the database is unavailable; their routes then
// answer 503.
type Deps struct {
	Events      events.Firer
	Players     *session.PlayerRegistry
	Connections *network.ConnectionRegistry
	Whitelist   *admission.Whitelist
	Metrics     *metrics.Metrics
	Audit       *db.AuditLog
	Permissions *db.PermissionStore
	StartedAt   time.Time
	Version     string
}

// Server is the admin REST API server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.API
	addr := fmt.Sprintf(":%d", apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var ln net.Listener
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if apiCfg.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handlePublicStatus)
	}

	guarded := []gin.HandlerFunc{IPWhitelist(apiCfg.IPWhitelist), RequireToken(apiCfg.Token)}

	if s.deps.Metrics != nil {
		router.GET("/metrics", append(guarded, gin.WrapH(promhttp.HandlerFor(
			s.deps.Metrics.Registry(), promhttp.HandlerOpts{},
		)))...)
	}

	protected := router.Group("/api")
	protected.Use(guarded...)
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/connections", s.handleConnections)
		protected.POST("/broadcast", s.handleBroadcast)

		protected.GET("/players", s.handleListPlayers)
		protected.GET("/players/:name", s.handleGetPlayer)
		protected.POST("/players/:name/kick", s.handleKickPlayer)
		protected.POST("/players/:name/message", s.handleMessagePlayer)

		protected.GET("/players/:name/tablist", s.handleGetTabList)
		protected.PUT("/players/:name/tablist/header", s.handleSetHeaderFooter)
		protected.DELETE("/players/:name/tablist/header", s.handleClearHeaderFooter)
		protected.POST("/players/:name/tablist/entries", s.handleAddTabEntry)
		protected.PATCH("/players/:name/tablist/entries/:id", s.handleUpdateTabEntry)
		protected.DELETE("/players/:name/tablist/entries/:id", s.handleRemoveTabEntry)
		protected.DELETE("/players/:name/tablist/entries", s.handleClearTabList)

		protected.GET("/whitelist", s.handleGetWhitelist)
		protected.POST("/whitelist", s.handleAddWhitelist)
		protected.DELETE("/whitelist/:ip", s.handleRemoveWhitelist)

		protected.GET("/audit", s.handleGetAudit)

		protected.GET("/permissions/roles", s.handleGetRoles)
		protected.GET("/permissions/subjects", s.handleGetSubjects)
		protected.POST("/permissions/subjects/:name/roles", s.handleAssignRole)
		protected.DELETE("/permissions/subjects/:name/roles/:role", s.handleRemoveRole)

		protected.GET("/config", s.handleGetConfig)
		protected.PATCH("/config/proxy", s.handleUpdateProxyConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) emit(c *gin.Context, t events.EventType, payload interface{}) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Emit(context.WithoutCancel(c.Request.Context()), events.Event{Type: t, Source: "api", Payload: payload})
}
